package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"

	"github.com/avoronov/news-curator-bot/internal/model"
)

type fakeDedupStorage struct {
	candidates []model.NewsItem

	gotSince      time.Time
	gotExcludeID  int64
	markedNewsID  int64
	markedOrigID  int64
	markDupCalled bool
}

func (f *fakeDedupStorage) DuplicateCandidates(
	_ context.Context,
	since time.Time,
	_, _ int,
	excludeID int64,
) ([]model.NewsItem, error) {
	f.gotSince = since
	f.gotExcludeID = excludeID
	return f.candidates, nil
}

func (f *fakeDedupStorage) MarkDuplicate(_ context.Context, newsID, originalID int64) error {
	f.markDupCalled = true
	f.markedNewsID = newsID
	f.markedOrigID = originalID
	return nil
}

// Матчер по подстроке: тексты похожи, если у них общий маркер
type fakeMatcher struct {
	available bool
	// Возвращает ошибку для кандидатов с этим текстом
	failOn string
	calls  int
}

func (f *fakeMatcher) Similar(_ context.Context, a, b string) (bool, error) {
	f.calls++
	if f.failOn != "" && strings.Contains(b, f.failOn) {
		return false, errors.New("ai service unavailable")
	}
	return strings.Contains(a, "marker") && strings.Contains(b, "marker"), nil
}

func (f *fakeMatcher) IsAvailable() bool { return f.available }

func newTestResolver(storage *fakeDedupStorage, matcher *fakeMatcher) *Resolver {
	r := NewResolver(storage, matcher, 24*time.Hour, 6, 50)
	r.now = func() time.Time { return time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC) }
	return r
}

func newsItem(id int64, title string, createdAt time.Time) model.NewsItem {
	return model.NewsItem{
		ID:             id,
		Title:          title,
		Content:        "текст новости",
		Status:         model.StatusPending,
		RelevanceScore: 7,
		CreatedAt:      createdAt,
	}
}

func TestResolveSkipsLowRelevance(t *testing.T) {
	storage := &fakeDedupStorage{}
	matcher := &fakeMatcher{available: true}
	r := newTestResolver(storage, matcher)

	item := newsItem(1, "marker", time.Now())
	item.RelevanceScore = 3

	if err := r.Resolve(context.Background(), item, model.Classification{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if matcher.calls != 0 {
		t.Error("matcher should not be called for low relevance news")
	}
	if storage.markDupCalled {
		t.Error("low relevance news must not be marked as duplicate")
	}
}

func TestResolveSkipsWhenMatcherUnavailable(t *testing.T) {
	storage := &fakeDedupStorage{}
	matcher := &fakeMatcher{available: false}
	r := newTestResolver(storage, matcher)

	if err := r.Resolve(context.Background(), newsItem(1, "marker", time.Now()), model.Classification{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if storage.markDupCalled {
		t.Error("nothing should be marked without a matcher")
	}
}

func TestResolveNoMatchesIsNoop(t *testing.T) {
	storage := &fakeDedupStorage{
		candidates: []model.NewsItem{newsItem(2, "другая тема", time.Now())},
	}
	matcher := &fakeMatcher{available: true}
	r := newTestResolver(storage, matcher)

	item := newsItem(1, "marker", time.Now())

	if err := r.Resolve(context.Background(), item, model.Classification{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if storage.markDupCalled {
		t.Error("news without matches must stay independent")
	}
	if storage.gotExcludeID != item.ID {
		t.Errorf("excludeID = %d, want %d", storage.gotExcludeID, item.ID)
	}
}

func TestResolvePicksEarliestCandidate(t *testing.T) {
	base := time.Date(2026, time.January, 10, 10, 0, 0, 0, time.UTC)

	storage := &fakeDedupStorage{
		candidates: []model.NewsItem{
			newsItem(5, "marker поздняя", base.Add(2*time.Hour)),
			newsItem(3, "marker ранняя", base),
			newsItem(4, "marker средняя", base.Add(time.Hour)),
		},
	}
	matcher := &fakeMatcher{available: true}
	r := newTestResolver(storage, matcher)

	item := newsItem(10, "marker новая", base.Add(3*time.Hour))

	if err := r.Resolve(context.Background(), item, model.Classification{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !storage.markDupCalled {
		t.Fatal("duplicate must be marked")
	}
	if storage.markedNewsID != 10 || storage.markedOrigID != 3 {
		t.Errorf("marked %d -> %d, want 10 -> 3", storage.markedNewsID, storage.markedOrigID)
	}
}

func TestResolveTieBreaksByRelevance(t *testing.T) {
	createdAt := time.Date(2026, time.January, 10, 10, 0, 0, 0, time.UTC)

	weak := newsItem(3, "marker", createdAt)
	weak.RelevanceScore = 6
	strong := newsItem(4, "marker", createdAt)
	strong.RelevanceScore = 9

	storage := &fakeDedupStorage{candidates: []model.NewsItem{weak, strong}}
	matcher := &fakeMatcher{available: true}
	r := newTestResolver(storage, matcher)

	if err := r.Resolve(context.Background(), newsItem(10, "marker", createdAt.Add(time.Hour)), model.Classification{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if storage.markedOrigID != strong.ID {
		t.Errorf("originalID = %d, want %d (higher relevance wins the tie)", storage.markedOrigID, strong.ID)
	}
}

// Кандидат сам оказался дубликатом: ссылка должна уйти на корень цепочки,
// а не на промежуточное звено
func TestResolveFlattensDuplicateChain(t *testing.T) {
	createdAt := time.Date(2026, time.January, 10, 10, 0, 0, 0, time.UTC)

	middle := newsItem(7, "marker", createdAt)
	middle.IsDuplicate = true
	middle.OriginalNewsID = lo.ToPtr(int64(2))

	storage := &fakeDedupStorage{candidates: []model.NewsItem{middle}}
	matcher := &fakeMatcher{available: true}
	r := newTestResolver(storage, matcher)

	if err := r.Resolve(context.Background(), newsItem(10, "marker", createdAt.Add(time.Hour)), model.Classification{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if storage.markedOrigID != 2 {
		t.Errorf("originalID = %d, want 2 (the chain root)", storage.markedOrigID)
	}
}

// Ошибка сравнения с одним кандидатом не мешает найти совпадение с другим
func TestResolveContinuesAfterMatcherError(t *testing.T) {
	createdAt := time.Date(2026, time.January, 10, 10, 0, 0, 0, time.UTC)

	storage := &fakeDedupStorage{
		candidates: []model.NewsItem{
			newsItem(3, "broken marker", createdAt),
			newsItem(4, "marker живая", createdAt.Add(time.Minute)),
		},
	}
	matcher := &fakeMatcher{available: true, failOn: "broken"}
	r := newTestResolver(storage, matcher)

	if err := r.Resolve(context.Background(), newsItem(10, "marker", createdAt.Add(time.Hour)), model.Classification{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !storage.markDupCalled || storage.markedOrigID != 4 {
		t.Errorf("marked original = %d, want 4", storage.markedOrigID)
	}
}

// Подсказка классификатора имеет приоритет над текстом новости
func TestMatchTextPrefersHint(t *testing.T) {
	item := model.NewsItem{Title: "заголовок", Content: "текст", AISummary: "выжимка"}

	if got := matchText(item, "подсказка"); got != "подсказка" {
		t.Errorf("matchText with hint = %q", got)
	}
	if got := matchText(item, ""); got != "выжимка" {
		t.Errorf("matchText with summary = %q", got)
	}

	item.AISummary = ""
	if got := matchText(item, ""); got != "заголовок текст" {
		t.Errorf("matchText fallback = %q", got)
	}
}
