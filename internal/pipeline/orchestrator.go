package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cardvault/image-worker/internal/catalog"
	"github.com/cardvault/image-worker/internal/collage"
	"github.com/cardvault/image-worker/internal/derivative"
	"github.com/cardvault/image-worker/internal/hashutil"
	"github.com/cardvault/image-worker/internal/imagedecode"
	"github.com/cardvault/image-worker/internal/imagefetch"
	"github.com/cardvault/image-worker/internal/sidedetect"
)

const defaultTrustTier = 3
const minConfidenceForAssignment = 0.85

// Fetcher performs the single outbound GET for a job's source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url, sourceName string) imagefetch.Result
}

// RateLimiter throttles outbound fetches per source.
type RateLimiter interface {
	InitBucket(sourceID string, maxRps float64)
	TryAcquire(sourceID string) bool
	GetWaitTime(sourceID string) int64
}

// VisionChecker optionally confirms or overrides the heuristic side result.
type VisionChecker interface {
	ShouldRun(trustTier int, currentConfidence float64) bool
	CheckSide(ctx context.Context, data []byte, mimeType string, trustTier int, cardNumber, setCode string) (side string, confidence float64, method string)
}

// DerivativeGenerator renders the fixed set of size-variants for an image.
type DerivativeGenerator interface {
	Generate(data []byte, originalWidth int, sha256Hex string) ([]derivative.Rendition, error)
}

// Uploader puts a rendered derivative into the blob store.
type Uploader interface {
	Put(ctx context.Context, storagePath string, data []byte) error
}

// Orchestrator runs the canonical ingest pipeline for one job at a time.
// Stages are strictly sequential: each consumes the previous stage's
// output, so there is no benefit to overlapping them within a single job.
type Orchestrator struct {
	catalog     catalog.Gateway
	rateLimiter RateLimiter
	fetcher     Fetcher
	vision      VisionChecker
	derivatives DerivativeGenerator
	uploader    Uploader
	maxPixels   int64
	logger      *slog.Logger

	// trustPriorClassificationOnDedup controls whether a dedup hit is
	// assigned primary_front unconditionally (true, the source-compatible
	// default) or only when the cached image was itself previously
	// classified front (false). See DESIGN.md for the reasoning.
	trustPriorClassificationOnDedup bool
}

// Dependencies bundles everything the orchestrator needs to be
// constructed, grouped to keep New's signature manageable.
type Dependencies struct {
	Catalog     catalog.Gateway
	RateLimiter RateLimiter
	Fetcher     Fetcher
	Vision      VisionChecker
	Derivatives DerivativeGenerator
	Uploader    Uploader
	MaxPixels   int64
	Logger      *slog.Logger

	// TrustPriorClassificationOnDedup, when false, requires a dedup hit's
	// cached image to already be classified front before reassigning it
	// as primary_front. Defaults to true (unset) to match the
	// source-compatible behavior of trusting the prior ingestion.
	TrustPriorClassificationOnDedup *bool
}

func New(deps Dependencies) *Orchestrator {
	trustPrior := true
	if deps.TrustPriorClassificationOnDedup != nil {
		trustPrior = *deps.TrustPriorClassificationOnDedup
	}
	return &Orchestrator{
		catalog:                         deps.Catalog,
		rateLimiter:                     deps.RateLimiter,
		fetcher:                         deps.Fetcher,
		vision:                          deps.Vision,
		derivatives:                     deps.Derivatives,
		uploader:                        deps.Uploader,
		maxPixels:                       deps.MaxPixels,
		logger:                          deps.Logger,
		trustPriorClassificationOnDedup: trustPrior,
	}
}

// ProcessImage runs job through every pipeline stage in order, emitting
// catalog events as it goes, and returns the terminal result. A panic
// anywhere in the stage sequence is recovered and surfaced as a failed
// result rather than taking down the worker process.
func (o *Orchestrator) ProcessImage(ctx context.Context, job ImageJob) (result Result) {
	var imageID string
	defer func() {
		if r := recover(); r != nil {
			if imageID != "" {
				o.failImage(ctx, imageID, fmt.Errorf("panic: %v", r))
			}
			o.logger.Error("panic recovered in pipeline",
				"card_id", job.CardID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
				CardID:    strPtr(job.CardID),
				EventType: catalog.EventFetchFailed,
				Message:   strPtr(fmt.Sprintf("panic: %v", r)),
			})
			result = Result{Status: StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	start := time.Now()

	o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
		CardID:    strPtr(job.CardID),
		EventType: catalog.EventFetchStarted,
		Message:   strPtr(job.SourceURL),
	})

	trustTier, sourceName, sourceID, maxRps := o.resolveSource(ctx, job)

	if sourceID != "" {
		o.rateLimiter.InitBucket(sourceID, maxRps)
		if !o.rateLimiter.TryAcquire(sourceID) {
			waitMs := o.rateLimiter.GetWaitTime(sourceID)
			return Result{Status: StatusRateLimited, Error: fmt.Sprintf("Rate limited, retry after %dms", waitMs)}
		}
	}

	fetchResult := o.fetcher.Fetch(ctx, job.SourceURL, sourceName)
	if !fetchResult.OK {
		o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
			CardID:     strPtr(job.CardID),
			EventType:  catalog.EventFetchFailed,
			Message:    strPtr(fetchResult.Error),
			HTTPStatus: intPtrOrNil(fetchResult.HTTPStatus),
		})
		return Result{Status: StatusFailed, Error: fetchResult.Error}
	}
	o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
		CardID:    strPtr(job.CardID),
		EventType: catalog.EventFetchCompleted,
		Metadata: map[string]any{
			"bytes":       len(fetchResult.Bytes),
			"contentType": fetchResult.ContentType,
		},
	})

	sha256Hex := hashutil.SHA256Hex(fetchResult.Bytes)

	existing, err := o.catalog.FindImageBySha256(ctx, sha256Hex)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}
	}
	if existing != nil {
		o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
			CardID:    strPtr(job.CardID),
			ImageID:   strPtr(existing.ID),
			EventType: catalog.EventDeduplicated,
		})
		canAssign := o.trustPriorClassificationOnDedup || existing.DetectedSide == string(sidedetect.SideFront)
		if canAssign {
			if err := o.catalog.AssignImageToCard(ctx, catalog.CardImageAssignment{
				CardID:    job.CardID,
				ImageID:   existing.ID,
				Role:      catalog.RolePrimaryFront,
				SourceID:  strPtr(sourceID),
				SourceURL: strPtr(job.SourceURL),
			}); err != nil {
				return Result{Status: StatusFailed, Error: err.Error()}
			}
		}
		return Result{
			Status:       StatusDeduplicated,
			ImageID:      existing.ID,
			SHA256:       sha256Hex,
			DetectedSide: existing.DetectedSide,
			Confidence:   existing.SideConfidence,
		}
	}

	meta, err := imagedecode.Decode(fetchResult.Bytes, o.maxPixels)
	if err != nil {
		o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
			CardID:    strPtr(job.CardID),
			EventType: catalog.EventValidationFailed,
			Message:   strPtr(err.Error()),
		})
		return Result{Status: StatusFailed, Error: err.Error()}
	}

	sideResult := sidedetect.Detect(fetchResult.Bytes, meta.Width, meta.Height)
	collageResult := collage.Detect(fetchResult.Bytes, meta.Width, meta.Height)

	if o.vision != nil && o.vision.ShouldRun(trustTier, sideResult.Confidence) {
		side, confidence, method := o.vision.CheckSide(ctx, fetchResult.Bytes, fetchResult.ContentType, trustTier, job.CardNumber, job.SetCode)
		if confidence > sideResult.Confidence {
			sideResult = sidedetect.Result{
				Side:       sidedetect.Side(side),
				Confidence: confidence,
				Method:     sidedetect.Method(method),
			}
		}
	}

	o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
		CardID:    strPtr(job.CardID),
		EventType: catalog.EventValidationPassed,
		Metadata: map[string]any{
			"width":      meta.Width,
			"height":     meta.Height,
			"side":       string(sideResult.Side),
			"confidence": sideResult.Confidence,
			"isCollage":  collageResult.IsCollage,
			"method":     string(sideResult.Method),
		},
	})

	o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
		CardID:    strPtr(job.CardID),
		EventType: catalog.EventProcessingStarted,
	})

	imageID, err = o.catalog.CreateImageRecord(ctx, &catalog.Image{
		SHA256:         sha256Hex,
		OriginalMime:   fetchResult.ContentType,
		OriginalWidth:  meta.Width,
		OriginalHeight: meta.Height,
		OriginalBytes:  meta.SizeBytes,
		Status:         catalog.StatusProcessing,
		DetectedSide:   string(sideResult.Side),
		SideConfidence: sideResult.Confidence,
		IsCollage:      collageResult.IsCollage,
		DetectedMethod: string(sideResult.Method),
	})
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}
	}

	renditions, err := o.derivatives.Generate(fetchResult.Bytes, meta.Width, sha256Hex)
	if err != nil {
		o.failImage(ctx, imageID, err)
		return Result{Status: StatusFailed, Error: err.Error(), ImageID: imageID, SHA256: sha256Hex, DetectedSide: string(sideResult.Side), Confidence: sideResult.Confidence}
	}
	o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
		CardID:    strPtr(job.CardID),
		ImageID:   strPtr(imageID),
		EventType: catalog.EventDerivativesGenerated,
		Metadata:  map[string]any{"count": len(renditions)},
	})

	for _, r := range renditions {
		if err := o.uploader.Put(ctx, r.StoragePath, r.Bytes); err != nil {
			o.failImage(ctx, imageID, err)
			return Result{Status: StatusFailed, Error: err.Error(), ImageID: imageID, SHA256: sha256Hex, DetectedSide: string(sideResult.Side), Confidence: sideResult.Confidence}
		}
	}
	o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
		CardID:    strPtr(job.CardID),
		ImageID:   strPtr(imageID),
		EventType: catalog.EventUploadCompleted,
	})

	for _, r := range renditions {
		if err := o.catalog.CreateDerivativeRecord(ctx, catalog.Derivative{
			ImageID:     imageID,
			Variant:     r.Variant,
			Format:      "webp",
			Width:       r.Width,
			Height:      r.Height,
			Bytes:       len(r.Bytes),
			StoragePath: r.StoragePath,
		}); err != nil {
			o.failImage(ctx, imageID, err)
			return Result{Status: StatusFailed, Error: err.Error(), ImageID: imageID, SHA256: sha256Hex, DetectedSide: string(sideResult.Side), Confidence: sideResult.Confidence}
		}
	}

	if err := o.catalog.UpdateImageStatus(ctx, imageID, catalog.StatusCompleted, nil); err != nil {
		o.failImage(ctx, imageID, err)
		return Result{Status: StatusFailed, Error: err.Error(), ImageID: imageID, SHA256: sha256Hex, DetectedSide: string(sideResult.Side), Confidence: sideResult.Confidence}
	}
	o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
		CardID:    strPtr(job.CardID),
		ImageID:   strPtr(imageID),
		EventType: catalog.EventProcessingCompleted,
		Metadata:  map[string]any{"elapsed_ms": time.Since(start).Milliseconds()},
	})

	assignable := sideResult.Side == sidedetect.SideFront && sideResult.Confidence >= minConfidenceForAssignment && !collageResult.IsCollage
	if !assignable {
		message := fmt.Sprintf("Not assigned: side=%s, confidence=%.2f, isCollage=%t", sideResult.Side, sideResult.Confidence, collageResult.IsCollage)
		o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
			CardID:    strPtr(job.CardID),
			ImageID:   strPtr(imageID),
			EventType: catalog.EventRejected,
			Message:   strPtr(message),
		})
		return Result{Status: StatusRejected, ImageID: imageID, SHA256: sha256Hex, Error: message, DetectedSide: string(sideResult.Side), Confidence: sideResult.Confidence}
	}

	if err := o.catalog.AssignImageToCard(ctx, catalog.CardImageAssignment{
		CardID:    job.CardID,
		ImageID:   imageID,
		Role:      catalog.RolePrimaryFront,
		SourceID:  strPtr(sourceID),
		SourceURL: strPtr(job.SourceURL),
	}); err != nil {
		return Result{Status: StatusFailed, Error: err.Error(), ImageID: imageID, SHA256: sha256Hex, DetectedSide: string(sideResult.Side), Confidence: sideResult.Confidence}
	}
	o.catalog.LogIngestEvent(ctx, catalog.IngestEvent{
		CardID:    strPtr(job.CardID),
		ImageID:   strPtr(imageID),
		EventType: catalog.EventAssigned,
		Message:   strPtr(catalog.RolePrimaryFront),
	})

	return Result{Status: StatusCompleted, ImageID: imageID, SHA256: sha256Hex, DetectedSide: string(sideResult.Side), Confidence: sideResult.Confidence}
}

// resolveSource looks up the job's source by id then by name, establishing
// trustTier as source > job > default.
func (o *Orchestrator) resolveSource(ctx context.Context, job ImageJob) (trustTier int, sourceName, sourceID string, maxRps float64) {
	var src *catalog.ImageSource
	if job.SourceID != "" {
		src, _ = o.catalog.GetImageSource(ctx, job.SourceID)
	}
	if src == nil && job.SourceName != "" {
		src, _ = o.catalog.GetImageSourceByName(ctx, job.SourceName)
	}
	if src != nil {
		return src.TrustTier, src.Name, src.ID, src.MaxRPS
	}
	if job.TrustTier != 0 {
		return job.TrustTier, job.SourceName, "", 0
	}
	return defaultTrustTier, job.SourceName, "", 0
}

// failImage marks an image record failed and logs the error, used once a
// processing-status row already exists but a later stage aborted.
func (o *Orchestrator) failImage(ctx context.Context, imageID string, cause error) {
	msg := cause.Error()
	if err := o.catalog.UpdateImageStatus(ctx, imageID, catalog.StatusFailed, &msg); err != nil {
		o.logger.Error("failed to mark image failed after pipeline abort", "image_id", imageID, "error", err)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtrOrNil(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
