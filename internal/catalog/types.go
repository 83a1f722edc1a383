package catalog

import "time"

// ImageSource is a registered origin for card images.
type ImageSource struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	BaseURL        string `db:"base_url"`
	TrustTier      int    `db:"trust_tier"`
	MaxRPS         float64 `db:"max_rps"`
	MaxConcurrency int    `db:"max_concurrency"`
	IsAllowed      bool   `db:"is_allowed"`
}

// Image is a stored, content-addressed image record.
type Image struct {
	ID                   string    `db:"id"`
	SHA256               string    `db:"sha256"`
	PHash                *string   `db:"phash"`
	OriginalMime         string    `db:"original_mime"`
	OriginalWidth        int       `db:"original_width"`
	OriginalHeight       int       `db:"original_height"`
	OriginalBytes        int       `db:"original_bytes"`
	OriginalStoragePath  *string   `db:"original_storage_path"`
	Status               string    `db:"status"`
	DetectedSide         string    `db:"detected_side"`
	SideConfidence       float64   `db:"side_confidence"`
	IsCollage            bool      `db:"is_collage"`
	DetectedMethod       string    `db:"detected_method"`
	UpdatedAt            time.Time `db:"updated_at"`
	Error                *string   `db:"error"`
}

// Derivative is one generated size-variant of an image.
type Derivative struct {
	ImageID     string `db:"image_id"`
	Variant     string `db:"variant"`
	Format      string `db:"format"`
	Width       int    `db:"width"`
	Height      int    `db:"height"`
	Bytes       int    `db:"bytes"`
	StoragePath string `db:"storage_path"`
}

// Image status values.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Card-image assignment roles.
const (
	RolePrimaryFront = "primary_front"
)

// CardImageAssignment binds an image to a card under a role.
type CardImageAssignment struct {
	CardID     string
	ImageID    string
	Role       string
	SourceID   *string
	SourceURL  *string
	AssignedAt time.Time
}

// IngestEvent is a structured event emitted by the pipeline for auditing.
type IngestEvent struct {
	CardID      *string
	CandidateID *string
	ImageID     *string
	EventType   string
	Message     *string
	HTTPStatus  *int
	Metadata    map[string]any
}

// Event type taxonomy.
const (
	EventFetchStarted         = "fetch_started"
	EventFetchCompleted       = "fetch_completed"
	EventFetchFailed          = "fetch_failed"
	EventDeduplicated         = "deduplicated"
	EventValidationFailed     = "validation_failed"
	EventValidationPassed     = "validation_passed"
	EventProcessingStarted    = "processing_started"
	EventDerivativesGenerated = "derivatives_generated"
	EventUploadCompleted      = "upload_completed"
	EventProcessingCompleted  = "processing_completed"
	EventRejected             = "rejected"
	EventAssigned             = "assigned"
)
