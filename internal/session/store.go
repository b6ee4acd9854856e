package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/avoronov/news-curator-bot/internal/model"
)

// Интерфейс к персистентному хранилищу сессий.
// Реализация живет в storage, здесь объявляем только то, что нужно стору.
type Storage interface {
	Insert(ctx context.Context, sess model.BotSession) (*model.BotSession, error)
	ByID(ctx context.Context, id int64) (*model.BotSession, error)
	Active(ctx context.Context, sessionType string, userID, chatID *string) (*model.BotSession, error)
	UpdatePayload(ctx context.Context, id int64, payload []byte, expectedVersion int64) error
	SetStatus(ctx context.Context, id int64, status model.SessionStatus) error
	ExpireOlderThan(ctx context.Context, now time.Time) (int64, error)
}

// Тип сессии, связанный со схемой payload.
// На каждый session_type ровно одна Go структура,
// произвольный blob в стор положить нельзя.
type Kind[T any] struct {
	Name string
}

// Ключ сессии: пользователь и/или чат. Пустое поле не участвует в выборке.
type Key struct {
	UserID string
	ChatID string
}

func (k Key) userID() *string {
	if k.UserID == "" {
		return nil
	}
	return &k.UserID
}

func (k Key) chatID() *string {
	if k.ChatID == "" {
		return nil
	}
	return &k.ChatID
}

// Ссылка на конкретную версию сессии. Через нее делаются
// update/complete/cancel, версия нужна для оптимистичной блокировки.
type Handle struct {
	ID      int64
	Version int64
}

// Generic-стор TTL-сессий поверх БД.
// Любой многошаговый диалог держит свое состояние здесь,
// а не в памяти процесса, иначе оно не переживет рестарт.
type Store struct {
	storage Storage
	// Подменяется в тестах
	now func() time.Time
}

func NewStore(storage Storage) *Store {
	return &Store{
		storage: storage,
		now:     time.Now,
	}
}

// Создает активную сессию с TTL и возвращает хэндл
func Put[T any](ctx context.Context, s *Store, kind Kind[T], key Key, payload T, ttl time.Duration) (Handle, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal %s payload: %w", kind.Name, err)
	}

	sess, err := s.storage.Insert(ctx, model.BotSession{
		SessionType: kind.Name,
		UserID:      key.userID(),
		ChatID:      key.chatID(),
		Payload:     raw,
		ExpiresAt:   s.now().Add(ttl),
	})
	if err != nil {
		return Handle{}, err
	}

	return Handle{ID: sess.ID, Version: sess.Version}, nil
}

// Читает активную сессию. Срок жизни проверяется прямо здесь,
// по таймстемпу: даже если фоновая уборка еще не добежала,
// протухшую сессию наружу не отдаем, а сразу помечаем expired.
// Граница включительная: now >= expires_at значит истекла.
func Get[T any](ctx context.Context, s *Store, kind Kind[T], key Key) (T, Handle, error) {
	var payload T

	sess, err := s.storage.Active(ctx, kind.Name, key.userID(), key.chatID())
	if err != nil {
		return payload, Handle{}, err
	}

	if !s.now().Before(sess.ExpiresAt) {
		if err := s.storage.SetStatus(ctx, sess.ID, model.SessionExpired); err != nil {
			log.Printf("[ERROR] failed to mark session %d expired: %v", sess.ID, err)
		}
		return payload, Handle{}, fmt.Errorf("%s session %d: %w", kind.Name, sess.ID, model.ErrExpired)
	}

	// Валидация схемы на чтении: payload обязан разбираться
	// в структуру своего типа сессии
	if err := json.Unmarshal(sess.Payload, &payload); err != nil {
		return payload, Handle{}, fmt.Errorf("%s session %d payload: %v: %w", kind.Name, sess.ID, err, model.ErrValidation)
	}

	return payload, Handle{ID: sess.ID, Version: sess.Version}, nil
}

// Перезаписывает payload сессии. Версия из хэндла сверяется с БД,
// при проигрыше гонки вернется ErrVersionConflict и свежий хэндл не выдается:
// вызывающий перечитывает сессию и повторяет шаг.
func Update[T any](ctx context.Context, s *Store, kind Kind[T], h Handle, payload T) (Handle, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return h, fmt.Errorf("marshal %s payload: %w", kind.Name, err)
	}

	if err := s.storage.UpdatePayload(ctx, h.ID, raw, h.Version); err != nil {
		return h, err
	}

	return Handle{ID: h.ID, Version: h.Version + 1}, nil
}

// Успешное завершение диалога
func (s *Store) Complete(ctx context.Context, h Handle) error {
	return s.storage.SetStatus(ctx, h.ID, model.SessionCompleted)
}

// Явная отмена диалога вызывающим. Неявной отмены по таймауту нет,
// есть только естественное истечение TTL.
func (s *Store) Cancel(ctx context.Context, h Handle) error {
	return s.storage.SetStatus(ctx, h.ID, model.SessionCancelled)
}

// Фоновая уборка истекших сессий. Дополняет проверку на чтении,
// использует ту же границу истечения.
func (s *Store) Sweep(ctx context.Context) error {
	n, err := s.storage.ExpireOlderThan(ctx, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("expired %d stale bot sessions", n)
	}
	return nil
}
