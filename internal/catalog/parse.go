package catalog

import (
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

// DetailPage is the structured result of parsing one detail page.
type DetailPage struct {
	Actor   string
	Magnets []domain.Magnet
}

// DecodePayload turns a raw page body into text, falling back to GBK
// for non-UTF8 responses.
func DecodePayload(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(payload)
	if err != nil {
		return string(payload)
	}
	return string(decoded)
}

// cleanText strips markup, unescapes entities and collapses whitespace.
func cleanText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = htmlTagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// ParseIndexPage extracts the partial entries listed on one index page.
// Filtering is a downstream policy; every recognizable item is returned.
// An empty slice is a legal terminal condition for all-mode crawls.
func ParseIndexPage(payload string, page int) ([]domain.Entry, []string) {
	matches := indexItemPattern.FindAllStringSubmatch(payload, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	entries := make([]domain.Entry, 0, len(matches))
	warnings := make([]string, 0)
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		if len(match) < 3 {
			continue
		}
		href := strings.TrimSpace(html.UnescapeString(match[1]))
		block := match[2]
		if href == "" {
			continue
		}
		if _, exists := seen[href]; exists {
			continue
		}
		seen[href] = struct{}{}

		entry := domain.Entry{
			Href:         href,
			Page:         page,
			Rating:       -1,
			CommentCount: -1,
		}
		if m := videoCodePattern.FindStringSubmatch(block); len(m) >= 2 {
			entry.VideoCode = strings.ToUpper(strings.TrimSpace(m[1]))
		}
		if entry.VideoCode == "" {
			warnings = append(warnings, "index item without video code: "+href)
			continue
		}
		if m := titlePattern.FindStringSubmatch(block); len(m) >= 2 {
			title := cleanText(m[1])
			title = strings.TrimSpace(strings.TrimPrefix(title, entry.VideoCode))
			entry.Title = title
		}
		if m := scorePattern.FindStringSubmatch(block); len(m) >= 3 {
			if rating, err := strconv.ParseFloat(m[1], 64); err == nil {
				entry.Rating = rating
			}
			if comments, err := strconv.Atoi(strings.ReplaceAll(m[2], ",", "")); err == nil {
				entry.CommentCount = comments
			}
		}
		for _, tagMatch := range tagSpanPattern.FindAllStringSubmatch(block, -1) {
			if len(tagMatch) < 2 {
				continue
			}
			tag := normalizeTag(tagMatch[1])
			if tag != "" {
				entry.Tags = append(entry.Tags, tag)
			}
		}
		entries = append(entries, entry)
	}
	return entries, warnings
}

// ParseDetailPage extracts the magnet rows and the entry attributes the
// index page does not carry.
func ParseDetailPage(payload string) (DetailPage, []string) {
	page := DetailPage{}
	warnings := make([]string, 0)

	if m := actorPattern.FindStringSubmatch(payload); len(m) >= 2 {
		names := make([]string, 0, 2)
		for _, anchor := range anchorTextPattern.FindAllStringSubmatch(m[1], -1) {
			if len(anchor) < 2 {
				continue
			}
			name := cleanText(anchor[1])
			if name != "" {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			if name := cleanText(m[1]); name != "" {
				names = append(names, name)
			}
		}
		page.Actor = strings.Join(names, ", ")
	}

	matches := magnetAnchorPattern.FindAllStringSubmatch(payload, -1)
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		if len(match) < 3 {
			continue
		}
		uri := strings.TrimSpace(html.UnescapeString(match[1]))
		block := match[2]
		if uri == "" {
			continue
		}
		if _, exists := seen[uri]; exists {
			continue
		}
		seen[uri] = struct{}{}

		magnet := domain.Magnet{URI: uri}
		if m := magnetNamePattern.FindStringSubmatch(block); len(m) >= 2 {
			magnet.Name = cleanText(m[1])
		}
		if magnet.Name == "" {
			warnings = append(warnings, "magnet without display name: "+truncate(uri, 60))
		}
		for _, tagMatch := range tagSpanPattern.FindAllStringSubmatch(block, -1) {
			if len(tagMatch) < 2 {
				continue
			}
			tag := normalizeTag(tagMatch[1])
			if tag != "" {
				magnet.Tags = append(magnet.Tags, tag)
			}
		}
		if m := magnetMetaPattern.FindStringSubmatch(block); len(m) >= 2 {
			meta := cleanText(m[1])
			if sm := sizeTextPattern.FindStringSubmatch(meta); len(sm) >= 2 {
				magnet.SizeText = strings.TrimSpace(sm[1])
				magnet.SizeBytes = ParseHumanSize(magnet.SizeText)
			}
		}
		if m := magnetTimePattern.FindStringSubmatch(block); len(m) >= 2 {
			magnet.PublishedAt = cleanText(m[1])
		}
		page.Magnets = append(page.Magnets, magnet)
	}
	return page, warnings
}

// normalizeTag lowercases latin tags and strips markup; CJK tags are
// kept verbatim after cleaning.
func normalizeTag(raw string) string {
	return strings.ToLower(cleanText(raw))
}

// ParseHumanSize converts a displayed size ("5.46GB", "980 MB") into
// bytes, tolerating CJK unit spellings and comma decimal separators.
func ParseHumanSize(raw string) int64 {
	value := strings.TrimSpace(strings.ToUpper(raw))
	value = strings.ReplaceAll(value, "ＧＢ", "GB")
	value = strings.ReplaceAll(value, "ＭＢ", "MB")
	value = strings.ReplaceAll(value, "GIB", "GB")
	value = strings.ReplaceAll(value, "MIB", "MB")
	value = strings.ReplaceAll(value, "KIB", "KB")
	value = strings.ReplaceAll(value, "TIB", "TB")
	if value == "" {
		return 0
	}

	unit := ""
	number := value
	for _, suffix := range []string{"TB", "GB", "MB", "KB", "B"} {
		if strings.HasSuffix(number, suffix) {
			unit = suffix
			number = strings.TrimSpace(strings.TrimSuffix(number, suffix))
			break
		}
	}
	if unit == "" {
		if parsed, err := strconv.ParseInt(number, 10, 64); err == nil {
			return parsed
		}
		return 0
	}

	parsed, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil || parsed < 0 {
		return 0
	}

	multiplier := float64(1)
	switch unit {
	case "KB":
		multiplier = 1024
	case "MB":
		multiplier = 1024 * 1024
	case "GB":
		multiplier = 1024 * 1024 * 1024
	case "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
	}
	return int64(parsed * multiplier)
}

func truncate(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "..."
}
