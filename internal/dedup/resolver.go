package dedup

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/avoronov/news-curator-bot/internal/model"
)

type NewsStorage interface {
	DuplicateCandidates(ctx context.Context, since time.Time, minRelevance, limit int, excludeID int64) ([]model.NewsItem, error)
	MarkDuplicate(ctx context.Context, newsID, originalID int64) error
}

// Сравнивалка текстов. Чем именно меряется сходство, эмбеддингами
// или суждением модели, решает реализация, резолверу все равно.
type Matcher interface {
	Similar(ctx context.Context, a, b string) (bool, error)
	IsAvailable() bool
}

// Резолвер дубликатов. Запускается после классификации и решает,
// новая это новость или повторение уже известной из другого источника.
type Resolver struct {
	news    NewsStorage
	matcher Matcher

	// Насколько далеко в прошлое смотрим при поиске кандидатов
	window time.Duration
	// Ниже этой релевантности новость в дедупе не участвует
	minRelevance int
	// Верхняя граница числа сравнений на одну новость
	maxCandidates int
	// Подменяется в тестах
	now func() time.Time
}

func NewResolver(news NewsStorage, matcher Matcher, window time.Duration, minRelevance, maxCandidates int) *Resolver {
	return &Resolver{
		news:          news,
		matcher:       matcher,
		window:        window,
		minRelevance:  minRelevance,
		maxCandidates: maxCandidates,
		now:           time.Now,
	}
}

// Ищет среди свежих релевантных новостей ту же самую и, если нашел,
// помечает новую запись дубликатом. Слияние связей с источниками
// и приведение ссылки к корню цепочки делает хранилище в одной транзакции.
func (r *Resolver) Resolve(ctx context.Context, item model.NewsItem, cls model.Classification) error {
	// Мусор и уже помеченные записи не сравниваем
	if item.RelevanceScore < r.minRelevance || item.Status == model.StatusDeleted || item.IsDuplicate {
		return nil
	}
	if !r.matcher.IsAvailable() {
		return nil
	}

	candidates, err := r.news.DuplicateCandidates(
		ctx,
		r.now().Add(-r.window),
		r.minRelevance,
		r.maxCandidates,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("fetch candidates: %w", err)
	}

	itemText := matchText(item, cls.DuplicateHint)

	var matched []model.NewsItem
	for _, candidate := range candidates {
		same, err := r.matcher.Similar(ctx, itemText, matchText(candidate, ""))
		if err != nil {
			// Одно неудачное сравнение не повод бросать остальные
			log.Printf("[ERROR] failed to compare news %d with %d: %v", item.ID, candidate.ID, err)
			continue
		}
		if same {
			matched = append(matched, candidate)
		}
	}

	if len(matched) == 0 {
		return nil
	}

	// Если совпали несколько кандидатов, канонической считаем самую раннюю,
	// при равном времени самую релевантную
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].RelevanceScore > matched[j].RelevanceScore
	})

	original := matched[0]

	// Дубликат всегда ссылается на корень цепочки: если выбранный кандидат
	// сам дубликат, берем его оригинал. Хранилище повторит эту проверку
	// внутри транзакции, но нормальный путь прийти туда уже с корнем.
	originalID := original.ID
	if original.IsDuplicate && original.OriginalNewsID != nil {
		originalID = *original.OriginalNewsID
	}

	log.Printf("news %d is a duplicate of %d", item.ID, originalID)

	return r.news.MarkDuplicate(ctx, item.ID, originalID)
}

// Текст для сравнения: подсказка от классификатора, если она есть,
// иначе AI-выжимка, иначе заголовок с текстом
func matchText(item model.NewsItem, hint string) string {
	if strings.TrimSpace(hint) != "" {
		return hint
	}
	if strings.TrimSpace(item.AISummary) != "" {
		return item.AISummary
	}
	return strings.TrimSpace(item.Title + " " + item.Content)
}
