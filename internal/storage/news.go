package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/avoronov/news-curator-bot/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

// Хранилище новостей в Postgres
type NewsPostgresStorage struct {
	db *sqlx.DB
}

func NewNewsStorage(db *sqlx.DB) *NewsPostgresStorage {
	return &NewsPostgresStorage{db: db}
}

// Билдер запросов с плейсхолдерами под Postgres
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Атомарный insert новости. Если пара (source_message_id, source_channel_id)
// уже есть в таблице, новая строка не создается, возвращается существующая.
// Проверка и вставка это одна операция на уникальном индексе,
// иначе при параллельном опросе пересекающихся каналов словим гонку.
// Второе возвращаемое значение говорит, создали ли мы новую строку.
func (s *NewsPostgresStorage) Upsert(ctx context.Context, item model.NewsItem) (*model.NewsItem, bool, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	// xmax = 0 только у свежевставленных строк, так отличаем insert от конфликта
	var row dbNewsUpserted
	err = conn.GetContext(ctx, &row, `
		INSERT INTO news (title, content, url, status, created_at, source_message_id, source_channel_id)
		VALUES ($1, $2, $3, $4, NOW(), $5, $6)
		ON CONFLICT (source_message_id, source_channel_id)
		DO UPDATE SET source_message_id = EXCLUDED.source_message_id
		RETURNING *, (xmax = 0) AS inserted`,
		item.Title,
		item.Content,
		item.URL,
		string(model.StatusPending),
		item.SourceMessageID,
		item.SourceChannelID,
	)
	if err != nil {
		return nil, false, err
	}

	news := row.dbNews.toModel()
	return &news, row.Inserted, nil
}

// Новость по id
func (s *NewsPostgresStorage) ByID(ctx context.Context, id int64) (*model.NewsItem, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var row dbNews
	if err := conn.GetContext(ctx, &row, `SELECT * FROM news WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("news %d: %w", id, model.ErrNotFound)
		}
		return nil, err
	}

	news := row.toModel()
	return &news, nil
}

// Сохраняет результат классификации для новости
func (s *NewsPostgresStorage) UpdateClassification(ctx context.Context, id int64, cls model.Classification, eventDate *time.Time) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		UPDATE news
		SET ai_summary = $1,
			relevance_score = $2,
			freshness_score = $3,
			importance_score = $4,
			category = $5,
			tags = $6,
			potential_impact = $7,
			tone = $8,
			event_date = $9,
			time_context = $10
		WHERE id = $11`,
		cls.Summary,
		cls.RelevanceScore,
		cls.FreshnessScore,
		cls.ImportanceScore,
		cls.Category,
		pq.Array(cls.Tags),
		cls.PotentialImpact,
		string(cls.Tone),
		eventDate,
		cls.TimeContext,
		id,
	)
	return err
}

// Кандидаты для сравнения на дубликат: свежие релевантные новости,
// от новых к старым, не больше limit штук.
// Запрос собираем билдером, потому что фильтры зависят от конфига.
func (s *NewsPostgresStorage) DuplicateCandidates(ctx context.Context, since time.Time, minRelevance, limit int, excludeID int64) ([]model.NewsItem, error) {
	query, args, err := psql.
		Select(newsColumns...).
		From("news").
		Where(sq.GtOrEq{"created_at": since}).
		Where(sq.GtOrEq{"relevance_score": minRelevance}).
		Where(sq.NotEq{"status": string(model.StatusDeleted)}).
		Where(sq.NotEq{"id": excludeID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rows []dbNews
	if err := conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row dbNews, _ int) model.NewsItem {
		return row.toModel()
	}), nil
}

// Новости для дайджеста: свежие, релевантные, не дубликаты и еще не обработанные
func (s *NewsPostgresStorage) ForDigest(ctx context.Context, since time.Time, minRelevance, limit int) ([]model.NewsItem, error) {
	query, args, err := psql.
		Select(newsColumns...).
		From("news").
		Where(sq.GtOrEq{"created_at": since}).
		Where(sq.GtOrEq{"relevance_score": minRelevance}).
		Where(sq.Eq{"status": string(model.StatusPending)}).
		Where(sq.Eq{"is_duplicate": false}).
		OrderBy("importance_score DESC", "created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rows []dbNews
	if err := conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row dbNews, _ int) model.NewsItem {
		return row.toModel()
	}), nil
}

// Новости, до которых классификация так и не дошла: очередь в памяти
// теряется при рестарте и переполнении, эти строки добирает фоновый рескан
func (s *NewsPostgresStorage) Unclassified(ctx context.Context, limit int) ([]model.NewsItem, error) {
	query, args, err := psql.
		Select(newsColumns...).
		From("news").
		Where(sq.Eq{"status": string(model.StatusPending)}).
		Where(sq.Eq{"relevance_score": nil}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rows []dbNews
	if err := conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row dbNews, _ int) model.NewsItem {
		return row.toModel()
	}), nil
}

// Помечает новость дубликатом и переносит ее источники на каноническую.
// Все внутри одной транзакции, чтобы две параллельно резолвящиеся новости
// не слинковались друг на друга вместо общего корня.
func (s *NewsPostgresStorage) MarkDuplicate(ctx context.Context, newsID, originalID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Если кандидат сам оказался дубликатом, идем по цепочке до корня.
	// Инвариант держит цепочку длиной 1, но на всякий случай ограничиваем обход.
	rootID := originalID
	for i := 0; i < 10; i++ {
		var row struct {
			IsDuplicate    bool   `db:"is_duplicate"`
			OriginalNewsID *int64 `db:"original_news_id"`
		}
		err := tx.GetContext(ctx, &row,
			`SELECT is_duplicate, original_news_id FROM news WHERE id = $1 FOR UPDATE`, rootID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("original news %d: %w", rootID, model.ErrNotFound)
			}
			return err
		}
		if !row.IsDuplicate || row.OriginalNewsID == nil {
			break
		}
		rootID = *row.OriginalNewsID
	}

	if rootID == newsID {
		return fmt.Errorf("news %d resolves to itself: %w", newsID, model.ErrStateConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE news SET is_duplicate = TRUE, original_news_id = $1 WHERE id = $2`,
		rootID, newsID,
	); err != nil {
		return err
	}

	// Переносим связи с источниками на каноническую новость.
	// ON CONFLICT DO NOTHING: если источник уже привязан, вторую строку не создаем.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO news_sources (news_id, source_id, created_at)
		SELECT $1, source_id, NOW() FROM news_sources WHERE news_id = $2
		ON CONFLICT (news_id, source_id) DO NOTHING`,
		rootID, newsID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Привязывает источник к новости. Повторная привязка той же пары это no-op.
func (s *NewsPostgresStorage) LinkSource(ctx context.Context, newsID, sourceID int64) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO news_sources (news_id, source_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (news_id, source_id) DO NOTHING`,
		newsID, sourceID,
	)
	return err
}

// Помечает новость обработанной куратором
func (s *NewsPostgresStorage) MarkCurated(ctx context.Context, id int64, curatorID string) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`UPDATE news SET status = $1, curator_id = $2, curated_at = NOW() WHERE id = $3`,
		string(model.StatusCurated), curatorID, id,
	)
	return err
}

// Удаляет новость из дайджеста (мягко, строка остается для аудита)
func (s *NewsPostgresStorage) MarkDeleted(ctx context.Context, id int64) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`UPDATE news SET status = $1 WHERE id = $2`,
		string(model.StatusDeleted), id,
	)
	return err
}

var newsColumns = []string{
	"id", "title", "content", "url", "status", "created_at",
	"curator_id", "curated_at", "ai_summary", "relevance_score",
	"freshness_score", "importance_score", "category", "tags",
	"potential_impact", "tone", "is_duplicate", "original_news_id",
	"event_date", "time_context", "source_message_id", "source_channel_id",
}

// Внутренняя модель для маппинга на колонки таблицы news
type dbNews struct {
	ID              int64          `db:"id"`
	Title           string         `db:"title"`
	Content         string         `db:"content"`
	URL             string         `db:"url"`
	Status          string         `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	CuratorID       *string        `db:"curator_id"`
	CuratedAt       *time.Time     `db:"curated_at"`
	AISummary       *string        `db:"ai_summary"`
	RelevanceScore  *int           `db:"relevance_score"`
	FreshnessScore  *int           `db:"freshness_score"`
	ImportanceScore *int           `db:"importance_score"`
	Category        *string        `db:"category"`
	Tags            pq.StringArray `db:"tags"`
	PotentialImpact *string        `db:"potential_impact"`
	Tone            *string        `db:"tone"`
	IsDuplicate     bool           `db:"is_duplicate"`
	OriginalNewsID  *int64         `db:"original_news_id"`
	EventDate       *time.Time     `db:"event_date"`
	TimeContext     *string        `db:"time_context"`
	SourceMessageID *int64         `db:"source_message_id"`
	SourceChannelID *string        `db:"source_channel_id"`
}

type dbNewsUpserted struct {
	dbNews
	Inserted bool `db:"inserted"`
}

func (row dbNews) toModel() model.NewsItem {
	return model.NewsItem{
		ID:              row.ID,
		Title:           row.Title,
		Content:         row.Content,
		URL:             row.URL,
		Status:          model.NewsStatus(row.Status),
		CreatedAt:       row.CreatedAt,
		CuratorID:       row.CuratorID,
		CuratedAt:       row.CuratedAt,
		AISummary:       lo.FromPtr(row.AISummary),
		RelevanceScore:  lo.FromPtr(row.RelevanceScore),
		FreshnessScore:  lo.FromPtr(row.FreshnessScore),
		ImportanceScore: lo.FromPtr(row.ImportanceScore),
		Category:        lo.FromPtr(row.Category),
		Tags:            row.Tags,
		PotentialImpact: lo.FromPtr(row.PotentialImpact),
		Tone:            model.Tone(lo.FromPtr(row.Tone)),
		IsDuplicate:     row.IsDuplicate,
		OriginalNewsID:  row.OriginalNewsID,
		EventDate:       row.EventDate,
		TimeContext:     lo.FromPtr(row.TimeContext),
		SourceMessageID: row.SourceMessageID,
		SourceChannelID: row.SourceChannelID,
	}
}
