package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avoronov/news-curator-bot/internal/model"
	"github.com/jmoiron/sqlx"
)

// Хранилище интерактивных сессий бота
type BotSessionPostgresStorage struct {
	db *sqlx.DB
}

func NewBotSessionStorage(db *sqlx.DB) *BotSessionPostgresStorage {
	return &BotSessionPostgresStorage{db: db}
}

// Создает новую активную сессию
func (s *BotSessionPostgresStorage) Insert(ctx context.Context, sess model.BotSession) (*model.BotSession, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var row dbBotSession
	err = conn.GetContext(ctx, &row, `
		INSERT INTO bot_sessions (session_type, user_id, chat_id, payload, status, expires_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING *`,
		sess.SessionType,
		sess.UserID,
		sess.ChatID,
		sess.Payload,
		string(model.SessionActive),
		sess.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	out := row.toModel()
	return &out, nil
}

// Сессия по id
func (s *BotSessionPostgresStorage) ByID(ctx context.Context, id int64) (*model.BotSession, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var row dbBotSession
	if err := conn.GetContext(ctx, &row, `SELECT * FROM bot_sessions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("bot session %d: %w", id, model.ErrNotFound)
		}
		return nil, err
	}

	out := row.toModel()
	return &out, nil
}

// Активная сессия по типу и ключу (пользователь и/или чат).
// Проверку TTL делает вызывающий слой, здесь только выборка.
func (s *BotSessionPostgresStorage) Active(ctx context.Context, sessionType string, userID, chatID *string) (*model.BotSession, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	query := `SELECT * FROM bot_sessions WHERE session_type = $1 AND status = $2`
	args := []any{sessionType, string(model.SessionActive)}

	if userID != nil {
		args = append(args, *userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if chatID != nil {
		args = append(args, *chatID)
		query += fmt.Sprintf(" AND chat_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC LIMIT 1"

	var row dbBotSession
	if err := conn.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active %s session: %w", sessionType, model.ErrNotFound)
		}
		return nil, err
	}

	out := row.toModel()
	return &out, nil
}

// Обновляет payload сессии с оптимистичной проверкой версии.
// Проигравший писатель получает ErrVersionConflict и сам решает, ретраить или нет.
// Молча перетирать чужую запись нельзя.
func (s *BotSessionPostgresStorage) UpdatePayload(ctx context.Context, id int64, payload []byte, expectedVersion int64) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE bot_sessions
		SET payload = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3 AND status = $4`,
		payload, id, expectedVersion, string(model.SessionActive),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Строка не обновилась: либо сессии нет, либо она не активна,
	// либо кто-то успел записать раньше нас
	current, err := s.ByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != model.SessionActive {
		return fmt.Errorf("bot session %d has status %s: %w", id, current.Status, model.ErrStateConflict)
	}
	return fmt.Errorf("bot session %d version %d != %d: %w", id, current.Version, expectedVersion, model.ErrVersionConflict)
}

// Переводит активную сессию в терминальный статус.
// Перевод не из active считается ошибкой состояния.
func (s *BotSessionPostgresStorage) SetStatus(ctx context.Context, id int64, status model.SessionStatus) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE bot_sessions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(status), id, string(model.SessionActive),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := conn.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM bot_sessions WHERE id = $1)`, id); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("bot session %d: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("bot session %d is not active: %w", id, model.ErrStateConflict)
	}

	return nil
}

// Фоновая уборка: все активные сессии с истекшим сроком помечаем expired.
// Граница та же, что и при чтении: now >= expires_at.
func (s *BotSessionPostgresStorage) ExpireOlderThan(ctx context.Context, now time.Time) (int64, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE bot_sessions SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= $3`,
		string(model.SessionExpired), string(model.SessionActive), now,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// Внутренняя модель для маппинга на колонки таблицы bot_sessions
type dbBotSession struct {
	ID          int64     `db:"id"`
	SessionType string    `db:"session_type"`
	UserID      *string   `db:"user_id"`
	ChatID      *string   `db:"chat_id"`
	Payload     []byte    `db:"payload"`
	Status      string    `db:"status"`
	ExpiresAt   time.Time `db:"expires_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	Version     int64     `db:"version"`
}

func (row dbBotSession) toModel() model.BotSession {
	return model.BotSession{
		ID:          row.ID,
		SessionType: row.SessionType,
		UserID:      row.UserID,
		ChatID:      row.ChatID,
		Payload:     row.Payload,
		Status:      model.SessionStatus(row.Status),
		ExpiresAt:   row.ExpiresAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Version:     row.Version,
	}
}
