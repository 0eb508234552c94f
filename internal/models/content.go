package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Module is one unit of the presentation sequence.
type Module struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Position    int       `json:"position"` // ordering within the sequence
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Submodule is one renderable step within a module, addressed by its index.
type Submodule struct {
	ID        uuid.UUID       `json:"id"`
	ModuleID  uuid.UUID       `json:"module_id"`
	Index     int             `json:"index"`
	Title     string          `json:"title"`
	Kind      string          `json:"kind"` // template kind, opaque to the sync core
	Body      json.RawMessage `json:"body,omitempty"`
	AssetKey  *string         `json:"asset_key,omitempty"` // S3 object key for attached media
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ContentDescriptor is what a resolved position points at; the sync core
// treats it as opaque.
type ContentDescriptor struct {
	ModuleID uuid.UUID       `json:"module_id"`
	Index    int             `json:"index"`
	Kind     string          `json:"kind"`
	Body     json.RawMessage `json:"body,omitempty"`
	AssetKey *string         `json:"asset_key,omitempty"`
	Version  string          `json:"version"`
}
