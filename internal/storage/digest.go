package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avoronov/news-curator-bot/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

// Хранилище сессий дайджеста.
// Эксклюзивность "одна активная сессия на чат" обеспечивает частичный
// уникальный индекс по chat_id WHERE is_active, проверка на уровне кода
// здесь не спасла бы от гонки двух параллельных open.
type DigestSessionPostgresStorage struct {
	db *sqlx.DB
}

func NewDigestSessionStorage(db *sqlx.DB) *DigestSessionPostgresStorage {
	return &DigestSessionPostgresStorage{db: db}
}

// Создает активную сессию для чата.
// Если активная сессия уже есть, возвращает ErrStateConflict.
func (s *DigestSessionPostgresStorage) Create(ctx context.Context, chatID int64, messageIDs []int, newsCount int) (*model.DigestSession, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var row dbDigestSession
	err = conn.GetContext(ctx, &row, `
		INSERT INTO digest_sessions (chat_id, message_ids, news_count, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING *`,
		chatID,
		pq.Array(toInt64s(messageIDs)),
		newsCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("active digest session already exists for chat %d: %w", chatID, model.ErrStateConflict)
		}
		return nil, err
	}

	session := row.toModel()
	return &session, nil
}

// Активная сессия чата или ErrNotFound
func (s *DigestSessionPostgresStorage) ActiveByChatID(ctx context.Context, chatID int64) (*model.DigestSession, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var row dbDigestSession
	err = conn.GetContext(ctx, &row,
		`SELECT * FROM digest_sessions WHERE chat_id = $1 AND is_active`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active digest session for chat %d: %w", chatID, model.ErrNotFound)
		}
		return nil, err
	}

	session := row.toModel()
	return &session, nil
}

// Сессия по id
func (s *DigestSessionPostgresStorage) ByID(ctx context.Context, id int64) (*model.DigestSession, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var row dbDigestSession
	if err := conn.GetContext(ctx, &row, `SELECT * FROM digest_sessions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("digest session %d: %w", id, model.ErrNotFound)
		}
		return nil, err
	}

	session := row.toModel()
	return &session, nil
}

// Дописывает id сообщений к активной сессии.
// Для закрытой сессии вернет ErrStateConflict.
func (s *DigestSessionPostgresStorage) AppendMessageIDs(ctx context.Context, id int64, messageIDs []int) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE digest_sessions
		SET message_ids = message_ids || $1, updated_at = NOW()
		WHERE id = $2 AND is_active`,
		pq.Array(toInt64s(messageIDs)), id,
	)
	if err != nil {
		return err
	}

	return s.checkUpdated(ctx, conn, res, id)
}

// Деактивирует сессию. Повторное закрытие это ошибка, не тихий no-op:
// вызывающий код обязан знать, что работает с уже закрытой сессией.
func (s *DigestSessionPostgresStorage) Close(ctx context.Context, id int64) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx,
		`UPDATE digest_sessions SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}

	return s.checkUpdated(ctx, conn, res, id)
}

// Разбираемся, почему update активной сессии не зацепил строк:
// сессии нет вообще или она уже закрыта
func (s *DigestSessionPostgresStorage) checkUpdated(ctx context.Context, conn *sqlx.Conn, res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := conn.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM digest_sessions WHERE id = $1)`, id); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("digest session %d: %w", id, model.ErrNotFound)
	}
	return fmt.Errorf("digest session %d is not active: %w", id, model.ErrStateConflict)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func toInt64s(ids []int) []int64 {
	return lo.Map(ids, func(id int, _ int) int64 { return int64(id) })
}

// Внутренняя модель для маппинга на колонки таблицы digest_sessions
type dbDigestSession struct {
	ID         int64         `db:"id"`
	ChatID     int64         `db:"chat_id"`
	MessageIDs pq.Int64Array `db:"message_ids"`
	NewsCount  int           `db:"news_count"`
	IsActive   bool          `db:"is_active"`
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}

func (row dbDigestSession) toModel() model.DigestSession {
	return model.DigestSession{
		ID:     row.ID,
		ChatID: row.ChatID,
		MessageIDs: lo.Map(row.MessageIDs, func(id int64, _ int) int {
			return int(id)
		}),
		NewsCount: row.NewsCount,
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
