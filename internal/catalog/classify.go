package catalog

import (
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

// Selection maps each torrent type to the magnet chosen for it. Types
// with no candidate are absent from the map.
type Selection map[domain.TorrentType]domain.Magnet

// ClassifyMagnets assigns every magnet to exactly one bucket and picks
// the preferred magnet per bucket. Malformed magnet URIs are skipped
// with a warning rather than classified.
func ClassifyMagnets(magnets []domain.Magnet) (Selection, []string) {
	selection := make(Selection, len(domain.TorrentTypes))
	warnings := make([]string, 0)

	for _, magnet := range magnets {
		if _, err := metainfo.ParseMagnetUri(magnet.URI); err != nil {
			warnings = append(warnings, "malformed magnet uri skipped: "+truncate(magnet.URI, 60))
			continue
		}
		bucket := bucketOf(magnet)
		current, exists := selection[bucket]
		if !exists || prefer(bucket, magnet, current) {
			selection[bucket] = magnet
		}
	}
	return selection, warnings
}

// bucketOf implements the classification table: crack+subtitle,
// crack-only, subtitle-only, everything else.
func bucketOf(magnet domain.Magnet) domain.TorrentType {
	crack, _ := crackRank(magnet)
	subtitle := hasSubtitleMarker(magnet)
	switch {
	case crack && subtitle:
		return domain.HackedSubtitle
	case crack:
		return domain.HackedNoSubtitle
	case subtitle:
		return domain.SubtitleType
	default:
		return domain.NoSubtitle
	}
}

// prefer reports whether candidate should replace current within the
// bucket. Crack buckets rank by the marker priority table first; the
// no_subtitle bucket prefers a 4K variant. Remaining ties break by
// larger size, then newer timestamp, then stable input order.
func prefer(bucket domain.TorrentType, candidate, current domain.Magnet) bool {
	if bucket == domain.HackedSubtitle || bucket == domain.HackedNoSubtitle {
		_, candidateRank := crackRank(candidate)
		_, currentRank := crackRank(current)
		if candidateRank != currentRank {
			return candidateRank > currentRank
		}
	}
	if bucket == domain.NoSubtitle {
		candidate4K := has4KMarker(candidate)
		current4K := has4KMarker(current)
		if candidate4K != current4K {
			return candidate4K
		}
	}
	if candidate.SizeBytes != current.SizeBytes {
		return candidate.SizeBytes > current.SizeBytes
	}
	if candidate.PublishedAt != current.PublishedAt {
		return candidate.PublishedAt > current.PublishedAt
	}
	return false
}

// crackRank matches the magnet name against the crack marker table and
// returns whether it is a crack variant and its tie-break rank.
func crackRank(magnet domain.Magnet) (bool, int) {
	name := strings.ToLower(strings.TrimSpace(magnet.Name))
	best := -1
	for _, marker := range crackMarkers {
		pattern := strings.ToLower(marker.Pattern)
		matched := false
		switch marker.Match {
		case matchSuffix:
			matched = strings.HasSuffix(name, pattern)
		case matchContains:
			matched = strings.Contains(name, pattern)
		}
		if matched && marker.Rank > best {
			best = marker.Rank
		}
	}
	return best >= 0, best
}

func hasSubtitleMarker(magnet domain.Magnet) bool {
	name := strings.ToLower(strings.TrimSpace(magnet.Name))
	for _, suffix := range subtitleNameSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	for _, tag := range magnet.Tags {
		for _, marker := range subtitleMarkers {
			if strings.Contains(tag, marker) {
				return true
			}
		}
	}
	return false
}

func has4KMarker(magnet domain.Magnet) bool {
	for _, tag := range magnet.Tags {
		for _, marker := range fourKMarkers {
			if strings.Contains(tag, marker) {
				return true
			}
		}
	}
	return false
}
