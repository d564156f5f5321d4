// Package source discovers and ranks candidate torrent sources.
package source

// RawSource is a candidate torrent as supplied by a discovery collaborator.
type RawSource struct {
	Title    string
	Locator  string
	SizeHint string
}

// RankedSource is a candidate with fields derived from its free-text title
// and a computed priority score. Valid only within a single ranking call.
type RankedSource struct {
	Title   string
	Locator string
	Quality string
	SizeGB  float64
	Seeders int
	Score   int
}
