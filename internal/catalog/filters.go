package catalog

import (
	"strings"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

// FilterConfig carries the configurable admission thresholds.
type FilterConfig struct {
	MinRate           float64
	MinComments       int
	IgnoreReleaseDate bool
}

// HasChineseSubtitleTag reports whether the entry carries any variant
// of the Chinese-subtitle index tag.
func HasChineseSubtitleTag(entry domain.Entry) bool {
	return hasAnyTag(entry, chineseSubtitleTags)
}

// IsFreshRelease reports whether the entry carries any variant of the
// released-today-or-yesterday index tag.
func IsFreshRelease(entry domain.Entry) bool {
	return hasAnyTag(entry, freshReleaseTags)
}

// Admit applies the phase's admission rules on parsed fields. Phase 1
// requires the subtitle tag; phase 2 requires the quality thresholds.
// The release-date gate applies to both unless suppressed. Entries
// missing rating or comment count are ineligible for phase 2.
func Admit(entry domain.Entry, phase int, cfg FilterConfig) bool {
	fresh := cfg.IgnoreReleaseDate || IsFreshRelease(entry)
	switch phase {
	case 1:
		return HasChineseSubtitleTag(entry) && fresh
	case 2:
		if !fresh {
			return false
		}
		if entry.Rating < 0 || entry.CommentCount < 0 {
			return false
		}
		return entry.Rating >= cfg.MinRate && entry.CommentCount >= cfg.MinComments
	default:
		return false
	}
}

func hasAnyTag(entry domain.Entry, variants []string) bool {
	for _, tag := range entry.Tags {
		for _, variant := range variants {
			if strings.Contains(tag, strings.ToLower(variant)) || strings.Contains(tag, variant) {
				return true
			}
		}
	}
	return false
}
