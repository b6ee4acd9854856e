package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/avoronov/news-curator-bot/internal/model"
	"github.com/sashabaranov/go-openai"
)

const defaultClassifyPrompt = `Ты редактор новостного канала про ИИ. Оцени новость и верни строго JSON без пояснений:
{"summary": "краткая выжимка в 2-3 предложения",
"relevance_score": 0-10, "freshness_score": 0-10, "importance_score": 0-10,
"category": "категория", "tags": ["тег"], "potential_impact": "на что повлияет",
"tone": "positive|negative|neutral",
"duplicate_hint": "одна фраза: о каком событии новость",
"event_date": "YYYY-MM-DD или пустая строка", "time_context": "сегодня/вчера/на этой неделе"}`

// Классификатор новостей через openai.
// Реализует интерфейсы Classifier у ингеста и Matcher у резолвера дубликатов.
type OpenAIClassifier struct {
	// sdk для openai
	client *openai.Client
	promt  string
	model  string
	// Флаг вкл/выкл классификатора
	enabled bool
	mu      sync.Mutex
}

func NewOpenAIClassifier(apiKey, promt, modelName string) *OpenAIClassifier {
	if promt == "" {
		promt = defaultClassifyPrompt
	}
	if modelName == "" {
		modelName = openai.GPT3Dot5Turbo
	}

	c := &OpenAIClassifier{
		client: openai.NewClient(apiKey),
		promt:  promt,
		model:  modelName,
	}

	log.Printf("openai classifier enabled: %v", apiKey != "")

	if apiKey != "" {
		c.enabled = true
	}

	return c
}

// Конкретная реализация выбирается один раз на старте процесса по конфигу.
// Через этот флаг вызывающий код узнает, что классификация выключена,
// никакого определения типа в рантайме.
func (c *OpenAIClassifier) IsAvailable() bool {
	return c.enabled
}

// Классифицирует новость: оценки, категория, выжимка, подсказка для дедупа.
// Ошибки транспорта заворачиваются в ErrExternalService, ретраи делает вызывающий.
func (c *OpenAIClassifier) Classify(ctx context.Context, title, content string) (model.Classification, error) {
	// Обкладываем мьютексами, т.к. конкурентный доступ может вызывать сюрпризы
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return model.Classification{}, fmt.Errorf("classifier disabled: %w", model.ErrExternalService)
	}

	raw, err := c.complete(ctx, fmt.Sprintf("%s\n\nЗаголовок: %s\n\nТекст: %s", c.promt, title, content))
	if err != nil {
		return model.Classification{}, err
	}

	var cls model.Classification
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &cls); err != nil {
		return model.Classification{}, fmt.Errorf("parse classification: %v: %w", err, model.ErrExternalService)
	}

	cls.RelevanceScore = clampScore(cls.RelevanceScore)
	cls.FreshnessScore = clampScore(cls.FreshnessScore)
	cls.ImportanceScore = clampScore(cls.ImportanceScore)

	return cls, nil
}

// Сравнение двух новостей: одно и то же событие или нет.
// Сам алгоритм сходства (эмбеддинги, пороги) это забота модели,
// мы только задаем вопрос и читаем ответ.
func (c *OpenAIClassifier) Similar(ctx context.Context, a, b string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return false, fmt.Errorf("classifier disabled: %w", model.ErrExternalService)
	}

	promt := fmt.Sprintf(
		"Это две заметки об одном и том же событии? Ответь одним словом: да или нет.\n\n1: %s\n\n2: %s",
		a, b,
	)

	raw, err := c.complete(ctx, promt)
	if err != nil {
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(answer, "да") || strings.HasPrefix(answer, "yes"), nil
}

func (c *OpenAIClassifier) complete(ctx context.Context, promt string) (string, error) {
	request := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: promt,
			},
		},
		MaxTokens:   512,
		Temperature: 0.2,
		TopP:        1,
	}

	resp, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		// Сюда попадают и rate limit, и таймауты, для вызывающего это
		// одинаково ретраибельная ошибка внешнего сервиса
		return "", fmt.Errorf("openai: %v: %w", err, model.ErrExternalService)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response: %w", model.ErrExternalService)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Модель любит заворачивать json в markdown-блок, снимаем обертку
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
