package catalog

import "context"

// Gateway is the narrow set of operations the pipeline needs against the
// external relational catalog. It is satisfied by *Postgres in production
// and by fakes in orchestrator tests.
type Gateway interface {
	FindImageBySha256(ctx context.Context, sha256Hex string) (*Image, error)
	GetImageSource(ctx context.Context, id string) (*ImageSource, error)
	GetImageSourceByName(ctx context.Context, name string) (*ImageSource, error)
	CreateImageRecord(ctx context.Context, img *Image) (string, error)
	UpdateImageStatus(ctx context.Context, imageID, status string, errMsg *string) error
	CreateDerivativeRecord(ctx context.Context, d Derivative) error
	AssignImageToCard(ctx context.Context, a CardImageAssignment) error
	LogIngestEvent(ctx context.Context, e IngestEvent)
}
