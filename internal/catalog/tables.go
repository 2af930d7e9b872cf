package catalog

import "regexp"

// Every site-markup pattern and tag/marker vocabulary lives in this file
// so a catalog markup change touches exactly one place.

var (
	// Index page: one anchor per catalog item.
	indexItemPattern = regexp.MustCompile(`(?is)<a[^>]+href="(/v/[^"]+)"[^>]*>(.*?)</a>`)
	videoCodePattern = regexp.MustCompile(`(?is)<strong[^>]*>\s*([A-Za-z]{2,6}-?[0-9]{2,6})\s*</strong>`)
	titlePattern     = regexp.MustCompile(`(?is)<div[^>]+class="[^"]*video-title[^"]*"[^>]*>(.*?)</div>`)
	scorePattern     = regexp.MustCompile(`(?is)<span[^>]+class="[^"]*value[^"]*"[^>]*>\s*([0-9]+(?:\.[0-9]+)?)[^0-9]*?([0-9][0-9,]*)\s*人`)
	tagSpanPattern   = regexp.MustCompile(`(?is)<span[^>]+class="[^"]*tag[^"]*"[^>]*>(.*?)</span>`)

	// Detail page: magnet rows and entry attributes missing from the index.
	magnetAnchorPattern = regexp.MustCompile(`(?is)<a[^>]+href="(magnet:\?xt=urn:btih:[^"]+)"[^>]*>(.*?)</a>`)
	magnetNamePattern   = regexp.MustCompile(`(?is)<span[^>]+class="[^"]*name[^"]*"[^>]*>(.*?)</span>`)
	magnetMetaPattern   = regexp.MustCompile(`(?is)<span[^>]+class="[^"]*meta[^"]*"[^>]*>(.*?)</span>`)
	magnetTimePattern   = regexp.MustCompile(`(?is)<span[^>]+class="[^"]*time[^"]*"[^>]*>(.*?)</span>`)
	sizeTextPattern     = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?\s*[KMGT]?i?B)`)
	actorPattern        = regexp.MustCompile(`(?is)<strong>(?:演員|演员|Actor)[::]?</strong>(.*?)</div>`)
	anchorTextPattern   = regexp.MustCompile(`(?is)<a[^>]*>(.*?)</a>`)

	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
)

// chineseSubtitleTags are the multilingual variants of the
// "has-Chinese-subtitle-magnet" index tag.
var chineseSubtitleTags = []string{
	"含中字磁鏈",
	"含中字磁链",
	"中字",
	"cnsub",
	"chinese subtitle",
}

// freshReleaseTags are the multilingual variants of the
// "released-today-or-yesterday" index tag.
var freshReleaseTags = []string{
	"今日新種",
	"今日新种",
	"昨日新種",
	"昨日新种",
	"today",
	"yesterday",
}

type markerMatch int

const (
	matchSuffix markerMatch = iota
	matchContains
)

// crackMarkers recognize the crack variants of a magnet name. Rank is
// the tie-break priority when several crack magnets exist for one
// entry: uncut-crack > uncut > crack-only > base.
var crackMarkers = []struct {
	Match   markerMatch
	Pattern string
	Rank    int
}{
	{matchSuffix, "-uc", 3},
	{matchContains, "無碼破解", 2},
	{matchContains, "无码破解", 2},
	{matchContains, "uncensored", 2},
	{matchContains, "破解", 1},
	{matchContains, "crack", 1},
	{matchSuffix, "-u", 0},
}

// subtitleMarkers recognize embedded-subtitle variants on a magnet name
// or tag.
var subtitleMarkers = []string{
	"字幕",
	"中字",
	"subtitle",
	"sub",
}

// subtitleNameSuffixes mark subtitle variants in the magnet name itself.
var subtitleNameSuffixes = []string{"-c", "-uc"}

// fourKMarkers recognize the 4K upgrade on a magnet tag.
var fourKMarkers = []string{"4k", "2160p"}
