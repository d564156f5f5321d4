// Package debrid resolves magnet links into direct download URLs through a
// Real-Debrid compatible unrestriction backend.
package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Torrent statuses reported by the backend.
const (
	StatusMagnetError      = "magnet_error"
	StatusMagnetConversion = "magnet_conversion"
	StatusWaitingSelection = "waiting_files_selection"
	StatusQueued           = "queued"
	StatusDownloading      = "downloading"
	StatusDownloaded       = "downloaded"
	StatusError            = "error"
	StatusVirus            = "virus"
	StatusCompressing      = "compressing"
	StatusUploading        = "uploading"
	StatusDead             = "dead"
)

// AddedTorrent is the backend's response to a magnet submission.
type AddedTorrent struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// TorrentFile is one file inside a backend torrent.
type TorrentFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

// TorrentInfo is the backend's view of a submitted torrent.
type TorrentInfo struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Hash     string        `json:"hash"`
	Bytes    int64         `json:"bytes"`
	Status   string        `json:"status"`
	Progress float64       `json:"progress"`
	Files    []TorrentFile `json:"files"`
	Links    []string      `json:"links"`
}

// UnrestrictedLink is the backend's direct-URL conversion result.
type UnrestrictedLink struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Download string `json:"download"`
}

// Client is a Real-Debrid REST API client. Every call carries the client's
// bounded timeout; the resolver owns the longer polling budget.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new backend client.
func NewClient(token, baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.real-debrid.com/rest/1.0"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:      strings.TrimSpace(token),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "debrid").Logger(),
	}
}

// AddMagnet submits a magnet URI and returns the backend torrent id.
func (c *Client) AddMagnet(ctx context.Context, magnetURI string) (*AddedTorrent, error) {
	form := url.Values{"magnet": {magnetURI}}
	var out AddedTorrent
	if err := c.postForm(ctx, "/torrents/addMagnet", form, &out); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("torrentId", out.ID).Msg("magnet submitted")
	return &out, nil
}

// GetTorrentInfo fetches current torrent state.
func (c *Client) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error) {
	var out TorrentInfo
	if err := c.get(ctx, "/torrents/info/"+torrentID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SelectFiles tells the backend which torrent files to cache.
func (c *Client) SelectFiles(ctx context.Context, torrentID string, fileIDs []int) error {
	ids := make([]string, len(fileIDs))
	for i, id := range fileIDs {
		ids[i] = strconv.Itoa(id)
	}
	form := url.Values{"files": {strings.Join(ids, ",")}}
	return c.postForm(ctx, "/torrents/selectFiles/"+torrentID, form, nil)
}

// Unrestrict converts a backend link into a directly downloadable URL.
func (c *Client) Unrestrict(ctx context.Context, link string) (*UnrestrictedLink, error) {
	form := url.Values{"link": {link}}
	var out UnrestrictedLink
	if err := c.postForm(ctx, "/unrestrict/link", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTorrent removes a torrent from the backend.
func (c *Client) DeleteTorrent(ctx context.Context, torrentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/torrents/delete/"+torrentID, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}
