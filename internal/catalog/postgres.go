package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cardvault/image-worker/internal/database"
)

// Postgres implements Gateway against the relational catalog schema.
type Postgres struct {
	db     *database.DB
	logger *slog.Logger
}

// NewPostgres builds a Postgres-backed Gateway.
func NewPostgres(db *database.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// uniqueViolation reports whether err is a Postgres unique_violation,
// used to distinguish a lost dedup race from any other insert failure.
func uniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

func (p *Postgres) FindImageBySha256(ctx context.Context, sha256Hex string) (*Image, error) {
	var img Image
	query := `SELECT id, sha256, phash, original_mime, original_width, original_height, original_bytes,
		original_storage_path, status, detected_side, side_confidence, is_collage, detected_method,
		updated_at, error FROM images WHERE sha256 = $1`

	err := p.db.GetContext(ctx, &img, query, sha256Hex)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find image by sha256: %w", err)
	}
	return &img, nil
}

func (p *Postgres) GetImageSource(ctx context.Context, id string) (*ImageSource, error) {
	var src ImageSource
	query := `SELECT id, name, base_url, trust_tier, max_rps, max_concurrency, is_allowed FROM image_sources WHERE id = $1`

	err := p.db.GetContext(ctx, &src, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get image source by id: %w", err)
	}
	return &src, nil
}

func (p *Postgres) GetImageSourceByName(ctx context.Context, name string) (*ImageSource, error) {
	var src ImageSource
	query := `SELECT id, name, base_url, trust_tier, max_rps, max_concurrency, is_allowed FROM image_sources WHERE name = $1`

	err := p.db.GetContext(ctx, &src, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get image source by name: %w", err)
	}
	return &src, nil
}

// CreateImageRecord inserts a new image row, unique on sha256. A lost
// dedup race surfaces as a hard failure for the caller to propagate,
// per the source behavior of failing loud rather than silently retrying.
func (p *Postgres) CreateImageRecord(ctx context.Context, img *Image) (string, error) {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	query := `
		INSERT INTO images (
			id, sha256, original_mime, original_width, original_height, original_bytes,
			status, detected_side, side_confidence, is_collage, detected_method, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := p.db.ExecContext(ctx, query,
		img.ID, img.SHA256, img.OriginalMime, img.OriginalWidth, img.OriginalHeight, img.OriginalBytes,
		img.Status, img.DetectedSide, img.SideConfidence, img.IsCollage, img.DetectedMethod, time.Now())
	if err != nil {
		if uniqueViolation(err) {
			return "", fmt.Errorf("create image record: concurrent insert won the dedup race: %w", err)
		}
		return "", fmt.Errorf("create image record: %w", err)
	}
	return img.ID, nil
}

func (p *Postgres) UpdateImageStatus(ctx context.Context, imageID, status string, errMsg *string) error {
	query := `UPDATE images SET status = $1, error = $2, updated_at = $3 WHERE id = $4`
	_, err := p.db.ExecContext(ctx, query, status, errMsg, time.Now(), imageID)
	if err != nil {
		return fmt.Errorf("update image status: %w", err)
	}
	return nil
}

// CreateDerivativeRecord inserts one variant row, unique per (image_id, variant).
func (p *Postgres) CreateDerivativeRecord(ctx context.Context, d Derivative) error {
	query := `
		INSERT INTO image_derivatives (image_id, variant, format, width, height, bytes, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := p.db.ExecContext(ctx, query, d.ImageID, d.Variant, d.Format, d.Width, d.Height, d.Bytes, d.StoragePath)
	if err != nil {
		return fmt.Errorf("create derivative record: %w", err)
	}
	return nil
}

// AssignImageToCard upserts on (card_id, role), overwriting any prior
// assignment for that role.
func (p *Postgres) AssignImageToCard(ctx context.Context, a CardImageAssignment) error {
	query := `
		INSERT INTO card_images (card_id, image_id, role, source_id, source_url, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (card_id, role) DO UPDATE SET
			image_id = EXCLUDED.image_id,
			source_id = EXCLUDED.source_id,
			source_url = EXCLUDED.source_url,
			assigned_at = EXCLUDED.assigned_at`

	_, err := p.db.ExecContext(ctx, query, a.CardID, a.ImageID, a.Role, a.SourceID, a.SourceURL, time.Now())
	if err != nil {
		return fmt.Errorf("assign image to card: %w", err)
	}
	return nil
}

// LogIngestEvent is fire-and-forget: a logging failure is itself logged
// but never propagated to the caller.
func (p *Postgres) LogIngestEvent(ctx context.Context, e IngestEvent) {
	var metadataJSON []byte
	if e.Metadata != nil {
		encoded, err := json.Marshal(e.Metadata)
		if err != nil {
			p.logger.Error("ingest event metadata encode failed", "event_type", e.EventType, "error", err)
		} else {
			metadataJSON = encoded
		}
	}

	query := `
		INSERT INTO image_ingest_events (card_id, candidate_id, image_id, event_type, message, http_status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := p.db.ExecContext(ctx, query, e.CardID, e.CandidateID, e.ImageID, e.EventType, e.Message, e.HTTPStatus, metadataJSON); err != nil {
		p.logger.Error("log ingest event failed", "event_type", e.EventType, "error", err)
	}
}
