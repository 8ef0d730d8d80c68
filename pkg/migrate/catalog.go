package migrate

import (
	"os"

	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
)

// Catalog is a Singer discovery catalog. Only the members the migration
// needs are decoded.
type Catalog struct {
	Streams []CatalogStream `json:"streams"`
}

// CatalogStream is one catalog entry.
type CatalogStream struct {
	Stream      string          `json:"stream"`
	TapStreamID string          `json:"tap_stream_id"`
	Schema      json.RawMessage `json:"schema"`
}

// Name returns the stream name, falling back to the tap stream id.
func (s CatalogStream) Name() string {
	if s.Stream != "" {
		return s.Stream
	}
	return s.TapStreamID
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeConfig, "failed to read catalog").
			WithDetail("path", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog JSON.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeStructural, "unable to parse catalog")
	}
	for i, s := range c.Streams {
		if s.Name() == "" {
			return nil, targeterrors.Newf(targeterrors.ErrorTypeStructural, "catalog stream %d has no name", i)
		}
	}
	return &c, nil
}
