package ports

import "context"

// Dataset identifies one catalog entry.
type Dataset struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// BandSchema describes the bands of an imagery dataset.
type BandSchema struct {
	Bands      int            `json:"bands"`
	BandNames  []string       `json:"band_names"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Catalog is the abstraction over the geospatial-data collaborator.
type Catalog interface {
	Browse(ctx context.Context, query string) ([]Dataset, error)
	BandSchema(ctx context.Context, id string) (BandSchema, error)
	AssetMetadata(ctx context.Context, id string) (map[string]any, error)
	Preview(ctx context.Context, id, start, end string, limit int) (map[string]any, error)
	DocsURL(id string) string
}
