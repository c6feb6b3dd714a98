package coconut

import "context"

// Storage defines the interface for durable asset persistence.
// Entries are keyed by recipe id across two namespaces: images and metadata.
//
// Writes are put-if-absent: an existing entry is never replaced, which is what
// keeps generated images permanent and prevents a late result from downgrading
// an earlier one.
type Storage interface {
	// GetImage retrieves the image for a recipe
	// Returns ErrNotFound if no image is stored
	GetImage(ctx context.Context, id RecipeID) (ImageAsset, error)

	// SaveImage stores the image unless one already exists
	// Returns true if the value was written, false if an existing entry was kept
	SaveImage(ctx context.Context, id RecipeID, asset ImageAsset) (bool, error)

	// GetMeta retrieves the metadata record for a recipe
	// Returns ErrNotFound if no record is stored
	GetMeta(ctx context.Context, id RecipeID) (*Meta, error)

	// SaveMeta stores the metadata record unless one already exists
	// Returns true if the value was written, false if an existing entry was kept
	SaveMeta(ctx context.Context, id RecipeID, meta *Meta) (bool, error)
}

// Namespaces used by storage backends and metrics.
const (
	NamespaceImages = "images"
	NamespaceMeta   = "metadata"
)
