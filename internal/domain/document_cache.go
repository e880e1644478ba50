package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessMode determines how an uploaded document is presented to the model.
type ProcessMode string

// Document process modes
const (
	ProcessModeText  ProcessMode = "text"
	ProcessModeImage ProcessMode = "image"
)

// IsValid reports whether m is a known process mode.
func (m ProcessMode) IsValid() bool {
	return m == ProcessModeText || m == ProcessModeImage
}

// ReviewDocumentCache points at the extracted content of one document of a
// review target. Caches are written once, during the first successful content
// acquisition, and reused by every retry.
type ReviewDocumentCache struct {
	ID             uuid.UUID   `json:"id"`
	ReviewTargetID uuid.UUID   `json:"review_target_id"`
	FileName       string      `json:"file_name"`
	ProcessMode    ProcessMode `json:"process_mode"`
	CachePath      string      `json:"cache_path"`
	// ImageCount is the number of page images below CachePath in image mode.
	ImageCount int       `json:"image_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
