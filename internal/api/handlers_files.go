package api

import (
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
)

// serveFile streams a stored media file. Range requests are supported so
// players can seek.
func (s *Server) serveFile(c echo.Context) error {
	raw := c.Param("*")
	relativePath, err := url.PathUnescape(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed file path"})
	}

	if strings.Contains(relativePath, "..") || strings.Contains(relativePath, "~") {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "path traversal not allowed"})
	}

	absolutePath, err := s.storage.AbsolutePath(relativePath)
	if err != nil {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "path traversal not allowed"})
	}

	info, err := os.Stat(absolutePath)
	if err != nil || info.IsDir() {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "file not found"})
	}

	c.Response().Header().Set("Accept-Ranges", "bytes")
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000")
	return c.File(absolutePath)
}
