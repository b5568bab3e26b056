package catalog

import (
	"time"
)

// Permission is a single catalog entry. Name is the unique machine key
// ("projects.read"); Module and Action are its grouping components. Identity
// is immutable once created: only DisplayName, Description and IsInternal may
// change afterwards.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	Module      string    `json:"module"`
	Action      string    `json:"action"`
	IsInternal  bool      `json:"is_internal"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
