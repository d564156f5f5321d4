// Package addon exposes the catalog protocol surface: manifest, catalogs of
// downloaded content, series metadata and stream listings that point players
// at local files or at the download trigger.
package addon

// Manifest describes the addon to catalog clients.
type Manifest struct {
	ID            string                `json:"id"`
	Version       string                `json:"version"`
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	Logo          string                `json:"logo,omitempty"`
	Background    string                `json:"background,omitempty"`
	Catalogs      []CatalogDefinition   `json:"catalogs"`
	Resources     []string              `json:"resources"`
	Types         []string              `json:"types"`
	IDPrefixes    []string              `json:"idPrefixes"`
	BehaviorHints ManifestBehaviorHints `json:"behaviorHints"`
}

// CatalogDefinition declares one catalog and its supported extra parameters.
type CatalogDefinition struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Name  string         `json:"name"`
	Extra []CatalogExtra `json:"extra,omitempty"`
}

// CatalogExtra is an optional catalog query parameter.
type CatalogExtra struct {
	Name       string `json:"name"`
	IsRequired bool   `json:"isRequired"`
}

// ManifestBehaviorHints tells clients how the addon behaves.
type ManifestBehaviorHints struct {
	Adult                 bool `json:"adult"`
	P2P                   bool `json:"p2p"`
	Configurable          bool `json:"configurable"`
	ConfigurationRequired bool `json:"configurationRequired"`
}

// Catalog identifiers served by this addon.
const (
	CatalogMovies = "offlinio-movies"
	CatalogSeries = "offlinio-series"
)

// DefaultManifest returns the addon manifest.
func DefaultManifest() Manifest {
	extras := []CatalogExtra{
		{Name: "search"},
		{Name: "genre"},
	}
	return Manifest{
		ID:          "community.offlinio",
		Version:     "0.1.0",
		Name:        "Offlinio",
		Description: "Personal Media Downloader - Download content you have legal rights to access",
		Catalogs: []CatalogDefinition{
			{ID: CatalogMovies, Type: "movie", Name: "Downloaded Movies", Extra: extras},
			{ID: CatalogSeries, Type: "series", Name: "Downloaded Series", Extra: extras},
		},
		Resources:  []string{"catalog", "meta", "stream"},
		Types:      []string{"movie", "series"},
		IDPrefixes: []string{"tt", "local", "offlinio"},
		BehaviorHints: ManifestBehaviorHints{
			Configurable: true,
		},
	}
}
