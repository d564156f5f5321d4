package debrid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient("test-token", url, 5*time.Second, zerolog.Nop())
}

func TestAddMagnet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/torrents/addMagnet", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "magnet:?xt=urn:btih:abc", r.PostForm.Get("magnet"))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"TORRENT1","uri":"/torrents/info/TORRENT1"}`))
	}))
	defer server.Close()

	added, err := newTestClient(server.URL).AddMagnet(context.Background(), "magnet:?xt=urn:btih:abc")
	require.NoError(t, err)
	assert.Equal(t, "TORRENT1", added.ID)
}

func TestGetTorrentInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/torrents/info/TORRENT1", r.URL.Path)
		w.Write([]byte(`{
			"id":"TORRENT1","filename":"movie.mkv","status":"downloaded","progress":100,
			"files":[{"id":1,"path":"/movie.mkv","bytes":4000000000,"selected":1}],
			"links":["https://real-debrid.com/d/abc"]
		}`))
	}))
	defer server.Close()

	info, err := newTestClient(server.URL).GetTorrentInfo(context.Background(), "TORRENT1")
	require.NoError(t, err)
	assert.Equal(t, StatusDownloaded, info.Status)
	require.Len(t, info.Files, 1)
	assert.Equal(t, int64(4000000000), info.Files[0].Bytes)
	require.Len(t, info.Links, 1)
}

func TestSelectFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/torrents/selectFiles/TORRENT1", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "2,5", r.PostForm.Get("files"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := newTestClient(server.URL).SelectFiles(context.Background(), "TORRENT1", []int{2, 5})
	require.NoError(t, err)
}

func TestUnrestrict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/unrestrict/link", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://real-debrid.com/d/abc", r.PostForm.Get("link"))
		w.Write([]byte(`{"filename":"movie.mkv","filesize":4000000000,"download":"https://cdn.real-debrid.com/movie.mkv"}`))
	}))
	defer server.Close()

	link, err := newTestClient(server.URL).Unrestrict(context.Background(), "https://real-debrid.com/d/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.real-debrid.com/movie.mkv", link.Download)
	assert.Equal(t, int64(4000000000), link.Filesize)
}

func TestDeleteTorrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/torrents/delete/TORRENT1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	require.NoError(t, newTestClient(server.URL).DeleteTorrent(context.Background(), "TORRENT1"))
}

func TestAPIErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad_token","error_code":8}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).AddMagnet(context.Background(), "magnet:?xt=x")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected *APIError, got %T", err)
	assert.True(t, apiErr.IsAuthError())
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "401")
}
