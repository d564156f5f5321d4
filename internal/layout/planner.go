// Package layout derives deterministic, filesystem-safe relative paths for
// downloaded media. Identical inputs always yield identical paths, which is
// what makes re-download and existence checks idempotent.
package layout

import (
	"fmt"
	"regexp"
	"strings"
)

const maxComponentLength = 200

var (
	illegalChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	whitespace   = regexp.MustCompile(`\s+`)
	extensionRe  = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|mov|mpg|m4v|webm|flv)(\?|$)`)
)

// DefaultExtension is used when the source URL carries no recognized video
// extension.
const DefaultExtension = ".mp4"

// Sanitize makes a free-text component safe for use in a path. It is
// idempotent: sanitizing an already sanitized string returns it unchanged.
func Sanitize(s string) string {
	s = illegalChars.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > maxComponentLength {
		s = strings.TrimSpace(string(runes[:maxComponentLength]))
	}
	return s
}

// ExtensionFromURL returns the recognized video extension of a source URL,
// tolerating a trailing query string, or DefaultExtension.
func ExtensionFromURL(sourceURL string) string {
	m := extensionRe.FindStringSubmatch(sourceURL)
	if m == nil {
		return DefaultExtension
	}
	return "." + strings.ToLower(m[1])
}

// PlanMoviePath returns the relative path for a movie:
// Movies/<Title> (<year>)<ext>.
func PlanMoviePath(title string, year *int, sourceURL string) string {
	name := Sanitize(title)
	if year != nil {
		name = fmt.Sprintf("%s (%d)", name, *year)
	}
	return fmt.Sprintf("Movies/%s%s", name, ExtensionFromURL(sourceURL))
}

// PlanEpisodePath returns the relative path for a series episode:
// Series/<Series>/Season <n>/<Series> S##E##[ - <EpisodeTitle>]<ext>.
// Season and episode numbers are zero padded to at least two digits.
func PlanEpisodePath(seriesTitle string, season, episode int, episodeTitle *string, sourceURL string) string {
	series := Sanitize(seriesTitle)
	name := fmt.Sprintf("%s S%02dE%02d", series, season, episode)
	if episodeTitle != nil && *episodeTitle != "" {
		name = fmt.Sprintf("%s - %s", name, Sanitize(*episodeTitle))
	}
	return fmt.Sprintf("Series/%s/Season %d/%s%s", series, season, name, ExtensionFromURL(sourceURL))
}
