package digest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/avoronov/news-curator-bot/internal/model"
	"github.com/avoronov/news-curator-bot/internal/session"
	"github.com/samber/lo"
)

type SessionStorage interface {
	Create(ctx context.Context, chatID int64, messageIDs []int, newsCount int) (*model.DigestSession, error)
	ActiveByChatID(ctx context.Context, chatID int64) (*model.DigestSession, error)
	AppendMessageIDs(ctx context.Context, id int64, messageIDs []int) error
	Close(ctx context.Context, id int64) error
}

type NewsProvider interface {
	ForDigest(ctx context.Context, since time.Time, minRelevance, limit int) ([]model.NewsItem, error)
	ByID(ctx context.Context, id int64) (*model.NewsItem, error)
	MarkCurated(ctx context.Context, id int64, curatorID string) error
	MarkDeleted(ctx context.Context, id int64) error
}

// Транспорт до чата кураторов. Ошибки отдаем наверх как есть,
// бесконечных ретраев здесь нет.
type Transport interface {
	SendBatch(ctx context.Context, chatID int64, items []model.NewsItem) ([]int, error)
	EditBatch(ctx context.Context, chatID int64, messageIDs []int, items []model.NewsItem) error
}

// Состояние ревью дайджеста, живет в сторе сессий между шагами куратора
type reviewPayload struct {
	SessionID int64   `json:"session_id"`
	NewsIDs   []int64 `json:"news_ids"`
}

var reviewKind = session.Kind[reviewPayload]{Name: "digest_review"}

// Менеджер сессий дайджеста: собирает пакет новостей, отправляет его
// кураторам одним ревью-батчем и ведет состояние до одобрения.
type Manager struct {
	sessions  SessionStorage
	news      NewsProvider
	transport Transport
	store     *session.Store

	// Чат кураторов
	chatID int64
	// Окно выборки новостей для дайджеста
	window       time.Duration
	minRelevance int
	maxItems     int
	// Сколько живет незакрытое ревью
	reviewTTL time.Duration
	// Подменяется в тестах
	now func() time.Time
}

func NewManager(
	sessions SessionStorage,
	news NewsProvider,
	transport Transport,
	store *session.Store,
	chatID int64,
	window time.Duration,
	minRelevance int,
	maxItems int,
	reviewTTL time.Duration,
) *Manager {
	return &Manager{
		sessions:     sessions,
		news:         news,
		transport:    transport,
		store:        store,
		chatID:       chatID,
		window:       window,
		minRelevance: minRelevance,
		maxItems:     maxItems,
		reviewTTL:    reviewTTL,
		now:          time.Now,
	}
}

// Открывает сессию ревью для чата. Если по чату уже идет ревью,
// вернется ErrStateConflict: вторую пачку в тот же чат не отправляем.
func (m *Manager) Open(ctx context.Context, chatID int64, messageIDs []int, newsCount int) (*model.DigestSession, error) {
	return m.sessions.Create(ctx, chatID, messageIDs, newsCount)
}

// Дописывает id новых сообщений к активной сессии
func (m *Manager) AppendEdit(ctx context.Context, sessionID int64, newMessageIDs []int) error {
	return m.sessions.AppendMessageIDs(ctx, sessionID, newMessageIDs)
}

// Закрывает сессию. Повторное закрытие дает ErrStateConflict
func (m *Manager) Close(ctx context.Context, sessionID int64) error {
	return m.sessions.Close(ctx, sessionID)
}

// По активной сессии роутятся все последующие команды куратора
func (m *Manager) FindActive(ctx context.Context, chatID int64) (*model.DigestSession, error) {
	return m.sessions.ActiveByChatID(ctx, chatID)
}

// Собирает дайджест и отправляет кураторам.
// Тело джобы digestCompile, также дергается командой /digest.
func (m *Manager) Compile(ctx context.Context) error {
	// Пока прошлый пакет на ревью, новый не собираем
	if _, err := m.FindActive(ctx, m.chatID); err == nil {
		log.Printf("digest review is still in progress for chat %d, skipping", m.chatID)
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	items, err := m.news.ForDigest(ctx, m.now().Add(-m.window), m.minRelevance, m.maxItems)
	if err != nil {
		return fmt.Errorf("collect digest: %w", err)
	}

	if len(items) == 0 {
		log.Println("no news for digest")
		return nil
	}

	messageIDs, err := m.transport.SendBatch(ctx, m.chatID, items)
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	digestSession, err := m.Open(ctx, m.chatID, messageIDs, len(items))
	if err != nil {
		return err
	}

	// Состояние ревью кладем в стор сессий: после рестарта процесса
	// куратор продолжит с того же места
	_, err = session.Put(ctx, m.store, reviewKind, chatKey(m.chatID), reviewPayload{
		SessionID: digestSession.ID,
		NewsIDs: lo.Map(items, func(item model.NewsItem, _ int) int64 {
			return item.ID
		}),
	}, m.reviewTTL)
	if err != nil {
		return fmt.Errorf("save review state: %w", err)
	}

	log.Printf("digest sent: %d news, %d messages, session %d", len(items), len(messageIDs), digestSession.ID)
	return nil
}

// Одобрение всего пакета: новости помечаются обработанными,
// сессия ревью закрывается
func (m *Manager) Approve(ctx context.Context, chatID int64, curatorID string) error {
	payload, handle, err := session.Get(ctx, m.store, reviewKind, chatKey(chatID))
	if err != nil {
		return err
	}

	for _, newsID := range payload.NewsIDs {
		if err := m.news.MarkCurated(ctx, newsID, curatorID); err != nil {
			return fmt.Errorf("mark news %d curated: %w", newsID, err)
		}
	}

	if err := m.Close(ctx, payload.SessionID); err != nil {
		return err
	}

	return m.store.Complete(ctx, handle)
}

// Правка пакета: куратор выкидывает одну новость, сообщения в чате
// перерисовываются под оставшиеся
func (m *Manager) RemoveNews(ctx context.Context, chatID, newsID int64) error {
	payload, handle, err := session.Get(ctx, m.store, reviewKind, chatKey(chatID))
	if err != nil {
		return err
	}

	if !lo.Contains(payload.NewsIDs, newsID) {
		return fmt.Errorf("news %d is not in the current digest: %w", newsID, model.ErrNotFound)
	}

	if err := m.news.MarkDeleted(ctx, newsID); err != nil {
		return err
	}

	payload.NewsIDs = lo.Without(payload.NewsIDs, newsID)
	if _, err := session.Update(ctx, m.store, reviewKind, handle, payload); err != nil {
		return err
	}

	digestSession, err := m.FindActive(ctx, chatID)
	if err != nil {
		return err
	}

	items := make([]model.NewsItem, 0, len(payload.NewsIDs))
	for _, id := range payload.NewsIDs {
		item, err := m.news.ByID(ctx, id)
		if err != nil {
			return err
		}
		items = append(items, *item)
	}

	if err := m.transport.EditBatch(ctx, chatID, digestSession.MessageIDs, items); err != nil {
		// Сообщения в чате разъехались с состоянием, но состояние первично:
		// репортим и не ретраим до бесконечности
		log.Printf("[ERROR] failed to edit digest messages in chat %d: %v", chatID, err)
	}

	return nil
}

// Отмена ревью: сессия дайджеста закрывается, новости остаются pending.
// Работает и после истечения состояния ревью: иначе чат навсегда
// останется с активной сессией, которую нечем закрыть, и Compile
// будет пропускать каждый тик.
func (m *Manager) CancelReview(ctx context.Context, chatID int64) error {
	payload, handle, err := session.Get(ctx, m.store, reviewKind, chatKey(chatID))
	if err != nil {
		if errors.Is(err, model.ErrExpired) || errors.Is(err, model.ErrNotFound) {
			return m.releaseAbandoned(ctx, chatID)
		}
		return err
	}

	if err := m.Close(ctx, payload.SessionID); err != nil {
		return err
	}

	return m.store.Cancel(ctx, handle)
}

// Закрывает сессию дайджеста, у которой состояние ревью протухло или потерялось
func (m *Manager) releaseAbandoned(ctx context.Context, chatID int64) error {
	digestSession, err := m.FindActive(ctx, chatID)
	if err != nil {
		return err
	}

	log.Printf("closing abandoned digest session %d for chat %d", digestSession.ID, chatID)

	return m.Close(ctx, digestSession.ID)
}

func chatKey(chatID int64) session.Key {
	return session.Key{ChatID: strconv.FormatInt(chatID, 10)}
}
