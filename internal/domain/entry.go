package domain

import "time"

// Entry is one catalog item as discovered on an index page and optionally
// enriched from its detail page. VideoCode uniquely identifies an entry.
type Entry struct {
	VideoCode    string
	Href         string
	Title        string
	Page         int
	Actor        string
	Rating       float64 // -1 when the index page carried no rating
	CommentCount int     // -1 when the index page carried no comment count
	Tags         []string
	CreateDate   time.Time
	UpdateDate   time.Time
}

// HasTag reports whether the entry carries the given normalized tag.
func (e Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Magnet is a torrent descriptor scraped from a detail page.
type Magnet struct {
	URI         string
	Name        string
	Tags        []string // normalized lowercase
	SizeText    string   // as displayed, e.g. "5.46GB"
	SizeBytes   int64    // parsed from SizeText, 0 when unknown
	PublishedAt string   // site-displayed timestamp string
}
