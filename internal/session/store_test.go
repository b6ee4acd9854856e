package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avoronov/news-curator-bot/internal/model"
)

type testPayload struct {
	Step  int    `json:"step"`
	Draft string `json:"draft"`
}

var testKind = Kind[testPayload]{Name: "test_flow"}

// Хранилище сессий в памяти, повторяет контракт постгресовой реализации
type fakeSessionStorage struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*model.BotSession
}

func newFakeSessionStorage() *fakeSessionStorage {
	return &fakeSessionStorage{sessions: make(map[int64]*model.BotSession)}
}

func (f *fakeSessionStorage) Insert(_ context.Context, sess model.BotSession) (*model.BotSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	sess.ID = f.nextID
	sess.Status = model.SessionActive
	sess.Version = 1

	stored := sess
	f.sessions[sess.ID] = &stored

	out := stored
	return &out, nil
}

func (f *fakeSessionStorage) ByID(_ context.Context, id int64) (*model.BotSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("bot session %d: %w", id, model.ErrNotFound)
	}
	out := *sess
	return &out, nil
}

func (f *fakeSessionStorage) Active(_ context.Context, sessionType string, userID, chatID *string) (*model.BotSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var found *model.BotSession
	for _, sess := range f.sessions {
		if sess.SessionType != sessionType || sess.Status != model.SessionActive {
			continue
		}
		if userID != nil && (sess.UserID == nil || *sess.UserID != *userID) {
			continue
		}
		if chatID != nil && (sess.ChatID == nil || *sess.ChatID != *chatID) {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			found = sess
		}
	}

	if found == nil {
		return nil, fmt.Errorf("active %s session: %w", sessionType, model.ErrNotFound)
	}
	out := *found
	return &out, nil
}

func (f *fakeSessionStorage) UpdatePayload(_ context.Context, id int64, payload []byte, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("bot session %d: %w", id, model.ErrNotFound)
	}
	if sess.Status != model.SessionActive {
		return fmt.Errorf("bot session %d has status %s: %w", id, sess.Status, model.ErrStateConflict)
	}
	if sess.Version != expectedVersion {
		return fmt.Errorf("bot session %d version %d != %d: %w", id, sess.Version, expectedVersion, model.ErrVersionConflict)
	}

	sess.Payload = payload
	sess.Version++
	return nil
}

func (f *fakeSessionStorage) SetStatus(_ context.Context, id int64, status model.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("bot session %d: %w", id, model.ErrNotFound)
	}
	if sess.Status != model.SessionActive {
		return fmt.Errorf("bot session %d is not active: %w", id, model.ErrStateConflict)
	}

	sess.Status = status
	return nil
}

func (f *fakeSessionStorage) ExpireOlderThan(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, sess := range f.sessions {
		if sess.Status == model.SessionActive && !now.Before(sess.ExpiresAt) {
			sess.Status = model.SessionExpired
			n++
		}
	}
	return n, nil
}

func newTestStore(now time.Time) (*Store, *fakeSessionStorage, *time.Time) {
	storage := newFakeSessionStorage()
	store := NewStore(storage)

	current := now
	store.now = func() time.Time { return current }

	return store, storage, &current
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(time.Now())

	key := Key{UserID: "42"}
	want := testPayload{Step: 2, Draft: "text"}

	if _, err := Put(ctx, store, testKind, key, want, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, handle, err := Get(ctx, store, testKind, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
	if handle.ID == 0 || handle.Version != 1 {
		t.Errorf("unexpected handle: %+v", handle)
	}
}

func TestStoreGetMissing(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(time.Now())

	_, _, err := Get(ctx, store, testKind, Key{UserID: "nobody"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreGetExpired(t *testing.T) {
	ctx := context.Background()
	store, storage, current := newTestStore(time.Now())

	key := Key{UserID: "42"}
	handle, err := Put(ctx, store, testKind, key, testPayload{Step: 1}, time.Hour)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Спустя два часа при TTL в час сессию уже не отдаем
	*current = current.Add(2 * time.Hour)

	if _, _, err := Get(ctx, store, testKind, key); !errors.Is(err, model.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}

	// И статус в хранилище должен смениться, не дожидаясь уборки
	sess, err := storage.ByID(ctx, handle.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if sess.Status != model.SessionExpired {
		t.Errorf("status = %s, want expired", sess.Status)
	}
}

func TestStoreExpiryBoundaryInclusive(t *testing.T) {
	ctx := context.Background()
	store, _, current := newTestStore(time.Now())

	key := Key{UserID: "42"}
	if _, err := Put(ctx, store, testKind, key, testPayload{}, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Ровно в момент expires_at сессия уже считается истекшей
	*current = current.Add(time.Hour)

	if _, _, err := Get(ctx, store, testKind, key); !errors.Is(err, model.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired at the exact boundary", err)
	}
}

func TestStoreUpdateVersionConflict(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(time.Now())

	key := Key{ChatID: "-100123"}
	handle, err := Put(ctx, store, testKind, key, testPayload{Step: 1}, time.Hour)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Первый писатель успевает, и handle протухает
	if _, err := Update(ctx, store, testKind, handle, testPayload{Step: 2}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Второй писатель со старой версией должен проиграть, а не перетереть
	_, err = Update(ctx, store, testKind, handle, testPayload{Step: 3})
	if !errors.Is(err, model.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	// После перечитывания запись обновляется
	got, fresh, err := Get(ctx, store, testKind, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Step != 2 {
		t.Errorf("step = %d, want 2", got.Step)
	}
	if _, err := Update(ctx, store, testKind, fresh, testPayload{Step: 3}); err != nil {
		t.Fatalf("retry update: %v", err)
	}
}

func TestStoreCompleteAndCancel(t *testing.T) {
	ctx := context.Background()
	store, storage, _ := newTestStore(time.Now())

	key := Key{UserID: "1"}
	handle, err := Put(ctx, store, testKind, key, testPayload{}, time.Hour)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := store.Complete(ctx, handle); err != nil {
		t.Fatalf("complete: %v", err)
	}

	sess, _ := storage.ByID(ctx, handle.ID)
	if sess.Status != model.SessionCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}

	// Повторный переход из терминального статуса запрещен
	if err := store.Cancel(ctx, handle); !errors.Is(err, model.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
}

func TestStoreSweep(t *testing.T) {
	ctx := context.Background()
	store, storage, current := newTestStore(time.Now())

	h1, _ := Put(ctx, store, testKind, Key{UserID: "1"}, testPayload{}, time.Minute)
	h2, _ := Put(ctx, store, testKind, Key{UserID: "2"}, testPayload{}, time.Hour)

	*current = current.Add(30 * time.Minute)

	if err := store.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	expired, _ := storage.ByID(ctx, h1.ID)
	alive, _ := storage.ByID(ctx, h2.ID)

	if expired.Status != model.SessionExpired {
		t.Errorf("short session status = %s, want expired", expired.Status)
	}
	if alive.Status != model.SessionActive {
		t.Errorf("long session status = %s, want active", alive.Status)
	}
}
