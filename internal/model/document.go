package model

import (
	"time"
)

// Document processing statuses. Transitions move forward only, except that a
// failed document may be retried back into processing.
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Declared document content types.
const (
	DocumentTypePDF      = "pdf"
	DocumentTypeDOCX     = "docx"
	DocumentTypeText     = "txt"
	DocumentTypeMarkdown = "markdown"
	DocumentTypeOther    = "other"
)

// Document represents an uploaded document and its processing lifecycle.
// Content is populated only once processing completes.
type Document struct {
	ID      string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	OwnerID string `json:"owner_id" gorm:"type:varchar(64);index;not null"`
	Title   string `json:"title" gorm:"type:varchar(255);not null"`
	Source  string `json:"source" gorm:"type:varchar(512);not null"` // Original filename or URL
	Type    string `json:"type" gorm:"type:varchar(16);default:'other'"`
	Size    int64  `json:"size" gorm:"default:0"`

	// Data holds the uploaded raw bytes; Content holds the extracted text and
	// is populated only once processing completes.
	Data    []byte `json:"-" gorm:"type:longblob"`
	Content string `json:"content,omitempty" gorm:"type:longtext"`
	Status  string `json:"status" gorm:"type:varchar(16);default:'pending';index"`

	// VectorRef names the vector-store collection holding this document's
	// fragments.
	VectorRef string  `json:"vector_ref,omitempty" gorm:"type:varchar(128)"`
	Metadata  JSONMap `json:"metadata,omitempty" gorm:"type:json"`

	// Processing statistics, updated on every attempt.
	Attempts        int `json:"attempts" gorm:"default:0"`
	ChunksProcessed int `json:"chunks_processed" gorm:"default:0"`
	ChunksFailed    int `json:"chunks_failed" gorm:"default:0"`
	ChunksTotal     int `json:"chunks_total" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "chat_documents"
}

// Fragment is the unit of embedding and retrieval. Fragments are not
// persisted relationally; they live in the vector store keyed by ID.
type Fragment struct {
	// ID is "<document-id>:<chunk-index>", stable across re-processing.
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	OwnerID         string    `json:"owner_id"`
	KnowledgeBaseID string    `json:"knowledge_base_id,omitempty"`
	Index           int       `json:"index"`
	Text            string    `json:"text"`
	Start           int       `json:"start"`
	End             int       `json:"end"`
	Embedding       []float32 `json:"-"`
	Metadata        JSONMap   `json:"metadata,omitempty"`
}
