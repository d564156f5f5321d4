package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultUserAgent = "Offlinio/0.1.0"

// CometClient fetches candidate streams from a Stremio-compatible stream
// aggregator. It is the discovery collaborator feeding the ranker.
type CometClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewCometClient creates a new aggregator client.
func NewCometClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *CometClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CometClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "comet").Logger(),
	}
}

type cometStream struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type cometResponse struct {
	Streams []cometStream `json:"streams"`
}

// FetchStreams returns the aggregator's candidate sources for a movie
// ("tt1234567") or episode ("tt1234567:1:2"). The returned list is raw and
// unfiltered; ranking decides what is usable.
func (c *CometClient) FetchStreams(ctx context.Context, kind, contentID string) ([]RawSource, error) {
	url := fmt.Sprintf("%s/stream/%s/%s.json", c.baseURL, kind, contentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator returned status %d", resp.StatusCode)
	}

	var body cometResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode aggregator response: %w", err)
	}

	sources := make([]RawSource, 0, len(body.Streams))
	for _, s := range body.Streams {
		title := s.Title
		if title == "" {
			title = s.Name
		}
		sources = append(sources, RawSource{
			Title:   title,
			Locator: s.URL,
		})
	}

	c.logger.Debug().Str("contentId", contentID).Int("streams", len(sources)).Msg("fetched streams")
	return sources, nil
}

// Ping checks aggregator availability via its manifest.
func (c *CometClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/manifest.json", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("aggregator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("aggregator returned status %d", resp.StatusCode)
	}
	return nil
}
