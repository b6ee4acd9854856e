package model

import "time"

// Статусы новости в нашей системе
type NewsStatus string

const (
	StatusPending   NewsStatus = "pending"
	StatusCurated   NewsStatus = "curated"
	StatusPublished NewsStatus = "published"
	StatusDeleted   NewsStatus = "deleted"
)

// Тональность новости, которую определяет AI
type Tone string

const (
	TonePositive Tone = "positive"
	ToneNegative Tone = "negative"
	ToneNeutral  Tone = "neutral"
)

// Новость, каноническая запись о событии.
// Одна новость может прийти из нескольких источников, все они
// привязываются через NewsSourceLink.
type NewsItem struct {
	ID      int64
	Title   string
	Content string
	URL     string
	Status  NewsStatus
	// Время добавления новости в нашу систему
	CreatedAt time.Time
	// Куратор, который обработал новость
	CuratorID *string
	CuratedAt *time.Time

	// Поля, которые заполняет AI после классификации
	AISummary       string
	RelevanceScore  int
	FreshnessScore  int
	ImportanceScore int
	Category        string
	Tags            []string
	PotentialImpact string
	Tone            Tone

	// Признак дубликата. Если true, то OriginalNewsID указывает
	// на каноническую (не дубликат) новость. Цепочки дубликат-на-дубликат
	// запрещены, всегда ссылаемся на корень.
	IsDuplicate    bool
	OriginalNewsID *int64

	// Когда произошло само событие (а не когда мы его увидели)
	EventDate   *time.Time
	TimeContext string

	// Откуда пришло сообщение. Пара (SourceMessageID, SourceChannelID)
	// уникальна: повторное наблюдение той же пары не создает новую запись.
	SourceMessageID *int64
	SourceChannelID *string
}

// Модель источника
type Source struct {
	ID int64
	// Имя
	Name string
	// Идентификатор канала или фида, откуда забираем данные
	ChannelID string
	IsActive  bool
	// Время создания
	CreatedAt time.Time
}

// Связь новость-источник. Пара (NewsID, SourceID) уникальна:
// каждый источник, который независимо сообщил новость, дает ровно одну строку.
type NewsSourceLink struct {
	NewsID    int64
	SourceID  int64
	CreatedAt time.Time
}

// Сессия дайджеста: один пакет новостей, отправленный кураторам на ревью.
// На один чат в любой момент может быть не больше одной активной сессии.
type DigestSession struct {
	ID         int64
	ChatID     int64
	MessageIDs []int
	NewsCount  int
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Статусы интерактивной сессии бота
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
	SessionCancelled SessionStatus = "cancelled"
)

// Персистентное состояние многошагового диалога с ботом.
// Храним в БД, чтобы переживать рестарты процесса.
type BotSession struct {
	ID          int64
	SessionType string
	UserID      *string
	ChatID      *string
	// json с данными шага, схема зависит от SessionType
	Payload   []byte
	Status    SessionStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	// Счетчик версий для оптимистичной блокировки
	Version int64
}

// Результат классификации новости внешним AI сервисом
type Classification struct {
	Summary         string   `json:"summary"`
	RelevanceScore  int      `json:"relevance_score"`
	FreshnessScore  int      `json:"freshness_score"`
	ImportanceScore int      `json:"importance_score"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	PotentialImpact string   `json:"potential_impact"`
	Tone            Tone     `json:"tone"`
	// Короткая подсказка для поиска дубликатов: о каком событии новость
	DuplicateHint string `json:"duplicate_hint"`
	EventDate     string `json:"event_date"`
	TimeContext   string `json:"time_context"`
}
