package models

import "time"

type Review struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"external_id,omitempty"`
	StoreID      string    `json:"store_id,omitempty"`
	ProductID    string    `json:"product_id,omitempty"`
	ProductTitle string    `json:"product_title,omitempty"`
	AuthorName   string    `json:"author_name"`
	Rating       float64   `json:"rating"`
	FitFeedback  string    `json:"fit_feedback,omitempty"`
	Body         string    `json:"review_body"`
	Source       string    `json:"source,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Evidence is a review returned by one retrieval call with its similarity score.
type Evidence struct {
	Review
	Score float32 `json:"score"`
}

const (
	ConversationActive    = "active"
	ConversationCompleted = "completed"
	ConversationAbandoned = "abandoned"
)

type Conversation struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	StoreID      string     `json:"store_id,omitempty"`
	ProductID    string     `json:"product_id,omitempty"`
	ProductTitle string     `json:"product_title,omitempty"`
	Status       string     `json:"status"`
	MessageCount int        `json:"messages_count"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int       `json:"seq"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SourcesCount   *int      `json:"sources_count,omitempty"`
	Suggestions    []string  `json:"suggestions,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConversationStats struct {
	TotalConversations         int     `json:"totalConversations"`
	ConversationsToday         int     `json:"conversationsToday"`
	TotalMessages              int     `json:"totalMessages"`
	MessagesToday              int     `json:"messagesToday"`
	AvgMessagesPerConversation float64 `json:"avgMessagesPerConversation"`
}

const (
	ResearchRunning = "running"
	ResearchDone    = "done"
	ResearchError   = "error"
)

type ResearchSession struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	ProductID   string    `json:"product_id,omitempty"`
	Status      string    `json:"status"`
	Steps       []string  `json:"steps"`
	Answer      string    `json:"answer,omitempty"`
	Sources     []Review  `json:"sources,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Setting is one keyed configuration record.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	SettingReviewsSeeded = "reviews.seeded"
	SettingLastUploadAt  = "reviews.last_upload_at"
	SettingDemoThreadID  = "demo.thread_id"
)

// Turn is one prior exchange supplied by the caller as conversation history.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
