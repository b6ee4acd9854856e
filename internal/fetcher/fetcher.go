package fetcher

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/avoronov/news-curator-bot/internal/ingest"
	"github.com/avoronov/news-curator-bot/internal/model"
	"github.com/avoronov/news-curator-bot/internal/source"

	"github.com/tomakado/containers/set"
)

type Ingestor interface {
	Ingest(ctx context.Context, raw ingest.RawNews) (*model.NewsItem, error)
}

type SourceProvider interface {
	Sources(ctx context.Context) ([]model.Source, error)
}

// Интерфейс источника
type Source interface {
	ID() int64
	Name() string
	ChannelID() string
	Fetch(ctx context.Context) ([]source.Item, error)
}

// Сборщик: опрашивает источники и проталкивает элементы через ингест.
// Решение "новая или уже видели" принимает не он, а IngestionGate.
type Fetcher struct {
	ingestor Ingestor
	// Хранилище источников
	sources SourceProvider
	// Фильтрация по ключевым словам
	filterKeyWords []string
}

func NewFetcher(ingestor Ingestor, sourceProvider SourceProvider, filterKeyWords []string) *Fetcher {
	return &Fetcher{
		ingestor:       ingestor,
		sources:        sourceProvider,
		filterKeyWords: filterKeyWords,
	}
}

// Один проход по всем источникам. Тело джобы ingestPoll.
// Источники опрашиваем параллельно: медленный или сломанный источник
// не должен задерживать остальные.
func (f *Fetcher) Fetch(ctx context.Context) error {
	sources, err := f.sources.Sources(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup

	for _, src := range sources {
		wg.Add(1)

		rssSource := source.NewRSSSourceFromModel(src)

		go func(source Source) {
			defer wg.Done()

			items, err := source.Fetch(ctx)
			if err != nil {
				log.Printf("[ERROR] fetching items from source %s: %v", source.Name(), err)
				return
			}

			if err := f.processItems(ctx, source, items); err != nil {
				log.Printf("[ERROR] processing items from source %s: %v", source.Name(), err)
				return
			}
		}(rssSource)
	}

	wg.Wait()

	return nil
}

// Прогоняет элементы ленты через ингест.
// Повторные элементы гейт схлопнет сам по паре (message_id, channel_id).
func (f *Fetcher) processItems(ctx context.Context, src Source, items []source.Item) error {
	for _, item := range items {
		if f.itemShouldBeSkipped(item) {
			continue
		}

		if _, err := f.ingestor.Ingest(ctx, ingest.RawNews{
			SourceMessageID: item.MessageID,
			SourceChannelID: src.ChannelID(),
			Title:           item.Title,
			Content:         item.Summary,
			URL:             item.Link,
		}); err != nil {
			return err
		}
	}

	return nil
}

// Проходимся по категориям и заголовку: если нашли стоп-слово,
// элемент в систему не попадает
func (f *Fetcher) itemShouldBeSkipped(item source.Item) bool {
	categoriesSet := set.New(item.Categories...)

	for _, keyword := range f.filterKeyWords {
		titleContainsKeyword := strings.Contains(strings.ToLower(item.Title), keyword)

		if categoriesSet.Contains(keyword) || titleContainsKeyword {
			return true
		}
	}

	return false
}
