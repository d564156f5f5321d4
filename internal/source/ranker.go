package source

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

var (
	sizeRe    = regexp.MustCompile(`(?i)(\d+(\.\d+)?)\s?(GB|MB|TB)`)
	seedersRe = regexp.MustCompile(`👤\s*(\d+)`)

	// Ordered by precedence: the first match wins.
	qualityTokens = []string{"2160p", "4k", "1080p", "720p", "480p", "360p"}
)

// QualityUnknown is the label for candidates with no recognizable quality token.
const QualityUnknown = "unknown"

// Ranker scores candidate torrent sources by quality, format, codec, audio,
// seeder and size heuristics.
type Ranker struct {
	logger zerolog.Logger
}

// NewRanker creates a new ranker.
func NewRanker(logger zerolog.Logger) *Ranker {
	return &Ranker{
		logger: logger.With().Str("component", "ranker").Logger(),
	}
}

// Rank filters the input to magnet sources, derives quality/size/seeders from
// each title and returns the candidates sorted by score descending. Ties keep
// their original relative order.
func (r *Ranker) Rank(sources []RawSource) []RankedSource {
	ranked := make([]RankedSource, 0, len(sources))

	for _, src := range sources {
		if !strings.HasPrefix(src.Locator, "magnet:") {
			continue
		}
		text := src.Title
		if src.SizeHint != "" {
			text += " " + src.SizeHint
		}
		ranked = append(ranked, RankedSource{
			Title:   src.Title,
			Locator: src.Locator,
			Quality: extractQuality(text),
			SizeGB:  extractSizeGB(text),
			Seeders: extractSeeders(text),
			Score:   score(text),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	r.logger.Debug().Int("candidates", len(sources)).Int("ranked", len(ranked)).Msg("ranked sources")
	return ranked
}

// PickBest returns the highest ranked source matching the earliest entry of
// preferredQualityOrder, falling back to the top-scored candidate. Returns
// nil when no magnet sources remain after filtering.
func (r *Ranker) PickBest(sources []RawSource, preferredQualityOrder []string) *RankedSource {
	ranked := r.Rank(sources)
	if len(ranked) == 0 {
		return nil
	}

	for _, preferred := range preferredQualityOrder {
		for i := range ranked {
			if strings.Contains(strings.ToLower(ranked[i].Quality), strings.ToLower(preferred)) {
				r.logger.Debug().Str("quality", preferred).Str("title", ranked[i].Title).Msg("picked preferred quality")
				return &ranked[i]
			}
		}
	}

	r.logger.Debug().Str("title", ranked[0].Title).Int("score", ranked[0].Score).Msg("picked top scored source")
	return &ranked[0]
}

func extractQuality(text string) string {
	lower := strings.ToLower(text)
	for _, token := range qualityTokens {
		if strings.Contains(lower, token) {
			return token
		}
	}
	return QualityUnknown
}

// extractSizeGB returns the parsed size normalized to gigabytes, 0 when absent.
func extractSizeGB(text string) float64 {
	m := sizeRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(m[3]) {
	case "TB":
		return value * 1024
	case "MB":
		return value / 1024
	default:
		return value
	}
}

func extractSeeders(text string) int {
	m := seedersRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// score computes the additive priority for a candidate title. Unparsable
// size or seeders simply contribute nothing.
func score(text string) int {
	name := strings.ToLower(text)
	priority := 0

	switch {
	case strings.Contains(name, "2160p") || strings.Contains(name, "4k"):
		priority += 100
	case strings.Contains(name, "1080p"):
		priority += 80
	case strings.Contains(name, "720p"):
		priority += 60
	case strings.Contains(name, "480p"):
		priority += 40
	}

	switch {
	case strings.Contains(name, "remux"):
		priority += 30
	case strings.Contains(name, "bluray") || strings.Contains(name, "blu-ray"):
		priority += 25
	case strings.Contains(name, "web-dl") || strings.Contains(name, "webdl"):
		priority += 20
	case strings.Contains(name, "webrip"):
		priority += 15
	case strings.Contains(name, "hdtv"):
		priority += 10
	}

	switch {
	case strings.Contains(name, "h265") || strings.Contains(name, "hevc"):
		priority += 15
	case strings.Contains(name, "h264") || strings.Contains(name, "avc"):
		priority += 10
	}

	switch {
	case strings.Contains(name, "atmos"):
		priority += 10
	case strings.Contains(name, "dts-hd") || strings.Contains(name, "truehd"):
		priority += 8
	case strings.Contains(name, "dts") || strings.Contains(name, "ac3"):
		priority += 5
	}

	if seeders := extractSeeders(text); seeders > 0 {
		if seeders > 50 {
			seeders = 50
		}
		priority += seeders
	}

	if sizeGB := extractSizeGB(text); sizeGB > 0 {
		switch {
		case sizeGB >= 2 && sizeGB <= 15:
			priority += 10
		case sizeGB > 15:
			priority -= 5
		case sizeGB < 1:
			priority -= 10
		}
	}

	return priority
}
