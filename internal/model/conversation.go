package model

import (
	"time"
)

// Conversation statuses.
const (
	ConversationStatusActive   = "active"
	ConversationStatusArchived = "archived"
	ConversationStatusDeleted  = "deleted"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Conversation represents a multi-turn chat session. UpdatedAt always
// reflects the newest message.
type Conversation struct {
	ID       string  `json:"id" gorm:"primaryKey;type:varchar(64)"`
	OwnerID  string  `json:"owner_id" gorm:"type:varchar(64);index;not null"`
	Title    string  `json:"title" gorm:"type:varchar(255)"`
	Status   string  `json:"status" gorm:"type:varchar(16);default:'active';index"`
	Metadata JSONMap `json:"metadata,omitempty" gorm:"type:json"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Conversation.
func (Conversation) TableName() string {
	return "chat_conversations"
}

// Message represents one turn entry in a conversation. Messages are totally
// ordered by creation time within their conversation.
type Message struct {
	ID             string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ConversationID string `json:"conversation_id" gorm:"type:varchar(64);index;not null"`
	Role           string `json:"role" gorm:"type:varchar(16);not null"`
	Content        string `json:"content" gorm:"type:longtext"`

	// Function-call descriptor, set when the model requested a tool call or
	// when this message carries a tool result.
	FunctionName string `json:"function_name,omitempty" gorm:"type:varchar(64)"`
	FunctionArgs string `json:"function_args,omitempty" gorm:"type:text"`

	// Model and token usage for assistant messages.
	Model            string `json:"model,omitempty" gorm:"type:varchar(64)"`
	PromptTokens     int    `json:"prompt_tokens,omitempty" gorm:"default:0"`
	CompletionTokens int    `json:"completion_tokens,omitempty" gorm:"default:0"`
	TotalTokens      int    `json:"total_tokens,omitempty" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for Message.
func (Message) TableName() string {
	return "chat_messages"
}
