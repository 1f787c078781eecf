package model

import (
	"time"
)

// Knowledge base visibility.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// KnowledgeBase is a named, owned collection of documents searchable as a
// unit. Public knowledge bases are readable by any user.
type KnowledgeBase struct {
	ID          string  `json:"id" gorm:"primaryKey;type:varchar(64)"`
	OwnerID     string  `json:"owner_id" gorm:"type:varchar(64);index;not null"`
	Name        string  `json:"name" gorm:"type:varchar(255);not null"`
	Description string  `json:"description" gorm:"type:text"`
	Visibility  string  `json:"visibility" gorm:"type:varchar(16);default:'private'"`
	Metadata    JSONMap `json:"metadata,omitempty" gorm:"type:json"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for KnowledgeBase.
func (KnowledgeBase) TableName() string {
	return "chat_knowledge_bases"
}

// KnowledgeAssociation links a document into a knowledge base. A document
// may belong to any number of knowledge bases; deleting the knowledge base
// removes associations but not the documents.
type KnowledgeAssociation struct {
	ID              string  `json:"id" gorm:"primaryKey;type:varchar(64)"`
	KnowledgeBaseID string  `json:"knowledge_base_id" gorm:"type:varchar(64);uniqueIndex:idx_kb_document;not null"`
	DocumentID      string  `json:"document_id" gorm:"type:varchar(64);uniqueIndex:idx_kb_document;not null"`
	Metadata        JSONMap `json:"metadata,omitempty" gorm:"type:json"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for KnowledgeAssociation.
func (KnowledgeAssociation) TableName() string {
	return "chat_knowledge_associations"
}
