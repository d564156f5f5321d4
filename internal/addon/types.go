package addon

// Meta is one catalog entry.
type Meta struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name,omitempty"`
	Poster      string   `json:"poster,omitempty"`
	PosterShape string   `json:"posterShape,omitempty"`
	Year        int      `json:"year,omitempty"`
	Description string   `json:"description,omitempty"`
	Genres      []string `json:"genre,omitempty"`
	Videos      []Video  `json:"videos,omitempty"`
}

// Video is one episode entry inside a series meta.
type Video struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Season   int    `json:"season"`
	Episode  int    `json:"episode"`
	Released string `json:"released,omitempty"`
}

// Stream is one playable or actionable entry in a stream response.
type Stream struct {
	Name          string               `json:"name"`
	Title         string               `json:"title,omitempty"`
	URL           string               `json:"url"`
	BehaviorHints *StreamBehaviorHints `json:"behaviorHints,omitempty"`
}

// StreamBehaviorHints tells clients how to treat a stream entry.
type StreamBehaviorHints struct {
	NotWebReady bool   `json:"notWebReady,omitempty"`
	BingeGroup  string `json:"bingeGroup,omitempty"`
}
