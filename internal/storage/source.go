package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avoronov/news-curator-bot/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

// Подключение к БД
type SourcePostgresStorage struct {
	db *sqlx.DB
}

func NewSourcePostgresStorage(db *sqlx.DB) *SourcePostgresStorage {
	return &SourcePostgresStorage{db: db}
}

// Метод для получения списка активных источников
func (s *SourcePostgresStorage) Sources(ctx context.Context) ([]model.Source, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var sources []dbSource
	if err := conn.SelectContext(ctx, &sources, `SELECT * FROM sources WHERE is_active`); err != nil {
		return nil, err
	}

	return lo.Map(sources, func(source dbSource, _ int) model.Source {
		return model.Source(source)
	}), nil
}

// Метод для получения источника по его id
func (s *SourcePostgresStorage) SourceByID(ctx context.Context, id int64) (*model.Source, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var source dbSource
	if err := conn.GetContext(ctx, &source, `SELECT * FROM sources WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %d: %w", id, model.ErrNotFound)
		}
		return nil, err
	}

	return (*model.Source)(&source), nil
}

// Источник по идентификатору канала. Нужен ингесту,
// чтобы привязать новость к источнику, из которого она пришла.
func (s *SourcePostgresStorage) SourceByChannelID(ctx context.Context, channelID string) (*model.Source, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var source dbSource
	if err := conn.GetContext(ctx, &source, `SELECT * FROM sources WHERE channel_id = $1`, channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %q: %w", channelID, model.ErrNotFound)
		}
		return nil, err
	}

	return (*model.Source)(&source), nil
}

// Метод для добавления источника
func (s *SourcePostgresStorage) Add(ctx context.Context, source model.Source) (int64, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var id int64

	row := conn.QueryRowxContext(
		ctx,
		`INSERT INTO sources (name, channel_id, is_active, created_at) VALUES ($1, $2, TRUE, NOW()) RETURNING id`,
		source.Name,
		source.ChannelID,
	)

	if err := row.Err(); err != nil {
		return 0, err
	}

	if err := row.Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// Деактивация источника. Строку не удаляем, на нее могут ссылаться news_sources.
func (s *SourcePostgresStorage) Deactivate(ctx context.Context, id int64) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `UPDATE sources SET is_active = FALSE WHERE id = $1`, id); err != nil {
		return err
	}

	return nil
}

// Внутренняя модель для работы с БД, чтобы правильно мапить его на колонки в таблице
type dbSource struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	ChannelID string    `db:"channel_id"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}
