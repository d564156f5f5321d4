package addon

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsedContentID is the decoded form of a catalog content identifier.
// Movies are bare ids ("tt1234567"); episodes carry a season and episode
// suffix ("tt1234567:1:2").
type ParsedContentID struct {
	Kind    string
	IMDBID  string
	Season  int
	Episode int
}

// ParseContentID decodes a content identifier.
func ParseContentID(contentID string) (*ParsedContentID, error) {
	if contentID == "" {
		return nil, fmt.Errorf("empty content id")
	}

	if !strings.Contains(contentID, ":") {
		return &ParsedContentID{Kind: "movie", IMDBID: contentID}, nil
	}

	parts := strings.Split(contentID, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed series id %q", contentID)
	}
	season, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed season in %q", contentID)
	}
	episode, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("malformed episode in %q", contentID)
	}

	return &ParsedContentID{
		Kind:    "series",
		IMDBID:  parts[0],
		Season:  season,
		Episode: episode,
	}, nil
}
