package domain

// TorrentType is the closed set of per-entry torrent variants the spider
// tracks independently in history and report columns.
type TorrentType string

const (
	// HackedSubtitle is the crack variant with embedded subtitles.
	HackedSubtitle TorrentType = "hacked_subtitle"
	// HackedNoSubtitle is the crack variant without subtitles.
	HackedNoSubtitle TorrentType = "hacked_no_subtitle"
	// SubtitleType is the standard variant with subtitles.
	SubtitleType TorrentType = "subtitle"
	// NoSubtitle is the standard variant, upgraded to 4K when available.
	NoSubtitle TorrentType = "no_subtitle"
)

// TorrentTypes lists all variants in canonical column order.
var TorrentTypes = []TorrentType{HackedSubtitle, HackedNoSubtitle, SubtitleType, NoSubtitle}

func (t TorrentType) Valid() bool {
	switch t {
	case HackedSubtitle, HackedNoSubtitle, SubtitleType, NoSubtitle:
		return true
	}
	return false
}
