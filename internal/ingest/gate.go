package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/avoronov/news-curator-bot/internal/model"
	"github.com/cenkalti/backoff/v4"
	readability "github.com/go-shiori/go-readability"
)

type NewsStorage interface {
	Upsert(ctx context.Context, item model.NewsItem) (*model.NewsItem, bool, error)
	ByID(ctx context.Context, id int64) (*model.NewsItem, error)
	Unclassified(ctx context.Context, limit int) ([]model.NewsItem, error)
	UpdateClassification(ctx context.Context, id int64, cls model.Classification, eventDate *time.Time) error
	LinkSource(ctx context.Context, newsID, sourceID int64) error
}

type SourceProvider interface {
	SourceByChannelID(ctx context.Context, channelID string) (*model.Source, error)
}

// Внешний AI сервис классификации
type Classifier interface {
	Classify(ctx context.Context, title, content string) (model.Classification, error)
	IsAvailable() bool
}

// Резолвер дубликатов, вызывается строго после классификации
type Resolver interface {
	Resolve(ctx context.Context, item model.NewsItem, cls model.Classification) error
}

// Сырая новость, как она пришла из источника
type RawNews struct {
	SourceMessageID int64
	SourceChannelID string
	Title           string
	Content         string
	URL             string
}

// Входная точка для всех новостей.
// Следит за уникальностью пары (сообщение, канал) и ставит новые записи
// в очередь на классификацию.
type Gate struct {
	news       NewsStorage
	sources    SourceProvider
	classifier Classifier
	resolver   Resolver

	// Сколько раз ретраим классификацию до того как бросить
	classifyRetries uint64
	// Очередь id новостей, ожидающих классификации
	queue chan int64
}

func NewGate(news NewsStorage, sources SourceProvider, classifier Classifier, resolver Resolver, classifyRetries uint64, queueSize int) *Gate {
	return &Gate{
		news:            news,
		sources:         sources,
		classifier:      classifier,
		resolver:        resolver,
		classifyRetries: classifyRetries,
		queue:           make(chan int64, queueSize),
	}
}

// Принимает сырую новость. Повторная подача той же пары
// (source_message_id, source_channel_id) возвращает уже существующую запись:
// без второй строки и без повторной классификации.
func (g *Gate) Ingest(ctx context.Context, raw RawNews) (*model.NewsItem, error) {
	if raw.SourceChannelID == "" || raw.SourceMessageID == 0 {
		return nil, fmt.Errorf("source message and channel are required: %w", model.ErrValidation)
	}
	if strings.TrimSpace(raw.Title) == "" && strings.TrimSpace(raw.Content) == "" {
		return nil, fmt.Errorf("empty news: %w", model.ErrValidation)
	}

	item, created, err := g.news.Upsert(ctx, model.NewsItem{
		Title:           raw.Title,
		Content:         raw.Content,
		URL:             raw.URL,
		SourceMessageID: &raw.SourceMessageID,
		SourceChannelID: &raw.SourceChannelID,
	})
	if err != nil {
		return nil, err
	}

	// Привязываем источник к новости. Для повторного наблюдения это no-op,
	// пара (news_id, source_id) уникальна.
	if src, err := g.sources.SourceByChannelID(ctx, raw.SourceChannelID); err == nil {
		if err := g.news.LinkSource(ctx, item.ID, src.ID); err != nil {
			log.Printf("[ERROR] failed to link news %d to source %d: %v", item.ID, src.ID, err)
		}
	} else if !errors.Is(err, model.ErrNotFound) {
		log.Printf("[ERROR] failed to find source %q: %v", raw.SourceChannelID, err)
	}

	if !created {
		return item, nil
	}

	// Классификацию не ждем: кладем в очередь и отдаем запись вызывающему
	select {
	case g.queue <- item.ID:
	default:
		log.Printf("[ERROR] classify queue is full, news %d stays unscored", item.ID)
	}

	return item, nil
}

// Возвращает в очередь новости, оставшиеся без оценок.
// Очередь живет в памяти: рестарт процесса и переполнение теряют элементы,
// а pending строка без оценок никогда не дойдет ни до дедупа, ни до дайджеста.
// Авторитетный список недоклассифицированного хранит БД, тело джобы classifyRescan.
func (g *Gate) RequeueUnscored(ctx context.Context) error {
	items, err := g.news.Unclassified(ctx, cap(g.queue))
	if err != nil {
		return fmt.Errorf("fetch unclassified: %w", err)
	}

	var queued int
	for _, item := range items {
		select {
		case g.queue <- item.ID:
			queued++
		default:
			// Очередь забита, остальное доберет следующий запуск
			log.Printf("classify queue is full, requeued %d of %d unscored news", queued, len(items))
			return nil
		}
	}

	if queued > 0 {
		log.Printf("requeued %d unscored news", queued)
	}
	return nil
}

// Воркер классификации. Работает в отдельной горутине, как и остальные воркеры.
// Для каждой новости порядок фиксированный: дообогатить текст,
// классифицировать (с ретраями), сохранить оценки и только потом
// запустить резолвер дубликатов.
func (g *Gate) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-g.queue:
			if err := g.classifyOne(ctx, id); err != nil {
				log.Printf("[ERROR] failed to classify news %d: %v", id, err)
			}
		}
	}
}

func (g *Gate) classifyOne(ctx context.Context, id int64) error {
	if !g.classifier.IsAvailable() {
		return nil
	}

	item, err := g.news.ByID(ctx, id)
	if err != nil {
		return err
	}

	content := item.Content
	if strings.TrimSpace(content) == "" && item.URL != "" {
		content = g.extractContent(ctx, item.URL)
	}

	var cls model.Classification
	operation := func() error {
		var err error
		cls, err = g.classifier.Classify(ctx, item.Title, content)
		if err != nil {
			if errors.Is(err, model.ErrExternalService) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	// Экспоненциальный backoff с ограниченным числом попыток.
	// Если не вышло, новость остается pending без оценок, ингест не падает.
	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.classifyRetries),
		ctx,
	))
	if err != nil {
		return fmt.Errorf("classification abandoned after retries: %w", err)
	}

	if err := g.news.UpdateClassification(ctx, item.ID, cls, parseEventDate(cls.EventDate)); err != nil {
		return err
	}

	item.RelevanceScore = cls.RelevanceScore
	item.Content = content

	return g.resolver.Resolve(ctx, *item, cls)
}

// Если у новости нет текста, идем по ссылке и достаем читаемый текст страницы
func (g *Gate) extractContent(ctx context.Context, url string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("[ERROR] failed to fetch %s: %v", url, err)
		return ""
	}
	defer resp.Body.Close()

	doc, err := readability.FromReader(resp.Body, nil)
	if err != nil {
		log.Printf("[ERROR] failed to extract content from %s: %v", url, err)
		return ""
	}

	return cleanText(doc.TextContent)
}

func parseEventDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// readability оставляет в тексте простыни пустых строк, схлопываем их
var redundantNewLines = regexp.MustCompile(`\n{3,}`)

func cleanText(text string) string {
	return redundantNewLines.ReplaceAllString(text, "\n")
}
