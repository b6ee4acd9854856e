package source

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/SlyMarbo/rss"
	"github.com/avoronov/news-curator-bot/internal/model"
)

// Элемент ленты до попадания в систему
type Item struct {
	// Синтетический id сообщения в рамках канала
	MessageID int64
	Title     string
	Summary   string
	// Категории статей
	Categories []string
	// Ссылка
	Link string
	// Дата публикации в источнике
	Date time.Time
}

// RSS клиент.
type RSSSource struct {
	// URL откуда мы забираем данные
	URL        string
	SourceID   int64
	SourceName string
	// Идентификатор канала, под которым новости уходят в ингест
	Channel string
}

// Конструктор, который из модели источника создает клиент для RSS лент.
// ChannelID источника здесь это url фида.
func NewRSSSourceFromModel(m model.Source) RSSSource {
	return RSSSource{
		URL:        m.ChannelID,
		SourceID:   m.ID,
		SourceName: m.Name,
		Channel:    m.ChannelID,
	}
}

// Забирает данные из ленты и возвращает слайс элементов
func (s RSSSource) Fetch(ctx context.Context) ([]Item, error) {
	feed, err := s.loadFeed(ctx, s.URL)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, item := range feed.Items {
		items = append(items, Item{
			MessageID:  itemMessageID(item),
			Title:      item.Title,
			Summary:    item.Summary,
			Categories: item.Categories,
			Link:       item.Link,
			Date:       item.Date,
		})
	}
	return items, nil
}

// У RSS элементов нет числового id сообщения, как у телеграма,
// поэтому считаем стабильный id из guid или ссылки.
// Один и тот же элемент при повторном опросе даст тот же id,
// на этом держится идемпотентность ингеста.
func itemMessageID(item *rss.Item) int64 {
	key := item.ID
	if key == "" {
		key = item.Link
	}

	h := fnv.New64a()
	h.Write([]byte(key))

	id := int64(h.Sum64() & (1<<62 - 1))
	if id == 0 {
		id = 1
	}
	return id
}

// Метод, который загружает данные из источника
func (s RSSSource) loadFeed(ctx context.Context, url string) (*rss.Feed, error) {
	// Каналы для получения ленты и получения ошибок
	var (
		feedCh = make(chan *rss.Feed)
		errCh  = make(chan error)
	)

	go func() {
		feed, err := rss.Fetch(url)
		if err != nil {
			errCh <- err
			return
		}

		feedCh <- feed
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case feed := <-feedCh:
		return feed, nil
	}
}

func (s RSSSource) ID() int64 {
	return s.SourceID
}

func (s RSSSource) Name() string {
	return s.SourceName
}

func (s RSSSource) ChannelID() string {
	return s.Channel
}
