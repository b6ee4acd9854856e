package source

import (
	"testing"

	"github.com/SlyMarbo/rss"

	"github.com/avoronov/news-curator-bot/internal/model"
)

func TestItemMessageIDStable(t *testing.T) {
	item := &rss.Item{ID: "guid-123", Link: "https://example.com/1"}

	first := itemMessageID(item)
	second := itemMessageID(item)

	if first != second {
		t.Errorf("ids differ: %d and %d", first, second)
	}
	if first <= 0 {
		t.Errorf("id = %d, want positive", first)
	}
}

func TestItemMessageIDFallsBackToLink(t *testing.T) {
	withGUID := itemMessageID(&rss.Item{ID: "guid-123", Link: "https://example.com/1"})
	noGUID := itemMessageID(&rss.Item{Link: "https://example.com/1"})

	if withGUID == noGUID {
		t.Error("guid and link must hash to different ids")
	}

	again := itemMessageID(&rss.Item{Link: "https://example.com/1"})
	if noGUID != again {
		t.Errorf("link-based ids differ: %d and %d", noGUID, again)
	}
}

func TestNewRSSSourceFromModel(t *testing.T) {
	src := NewRSSSourceFromModel(model.Source{
		ID:        7,
		Name:      "Хабр",
		ChannelID: "https://habr.com/rss",
	})

	if src.ID() != 7 || src.Name() != "Хабр" {
		t.Errorf("source = %+v", src)
	}
	if src.URL != "https://habr.com/rss" || src.ChannelID() != "https://habr.com/rss" {
		t.Error("channel id of an rss source must be its feed url")
	}
}
