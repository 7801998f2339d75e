package processing

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/post-search/internal/models"
)

// PublishedLayouts are tried in order and the first match wins, so a value is
// never inspected to guess between the M/D/YYYY and YYYY-MM-DD families. The
// hour element accepts one or two digits, which covers both H:MM:SS and
// HH:MM:SS with a single layout.
var PublishedLayouts = []string{
	"1/2/2006 15:04:05",
	"1/2/2006",
	"2006-01-02",
}

// PublishedFormat is the Elasticsearch date format matching PublishedLayouts.
const PublishedFormat = "M/d/yyyy H:mm:ss||M/d/yyyy HH:mm:ss||M/d/yyyy||yyyy-MM-dd"

const utf8BOM = "\ufeff"

// ParsePublished parses a status_published value using PublishedLayouts.
func ParsePublished(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range PublishedLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ParseCounter converts an engagement counter cell to an int. Empty or
// malformed values yield zero.
func ParseCounter(raw string) int {
	n, _ := parseCounter(raw)
	return n
}

// parseCounter reports false only for non-empty values that are not integers.
func parseCounter(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// BuildDocumentID derives the stable identity of a row: the md5 of the link when
// present, otherwise the md5 of message and published text concatenated.
func BuildDocumentID(link, message, published string) string {
	key := link
	if key == "" {
		key = message + published
	}
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NormalizeHeader trims the column names and drops a leading byte order mark.
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		out[i] = strings.TrimSpace(name)
	}
	return out
}

// Issue describes a field that was defaulted while normalizing a row.
type Issue struct {
	Field string
	Value string
}

// NormalizeRow maps a CSV row onto a Record. Counters that are missing or
// malformed become zero, empty cells become nil and unrecognized columns are
// kept in Extra. A status_published value no layout accepts is dropped from
// the document but still takes part in the identity. The returned issues list
// every defaulted non-empty value.
func NormalizeRow(header, row []string) (models.Record, []Issue) {
	rec := models.Record{}
	var issues []Issue

	for i, name := range header {
		if name == "" {
			continue
		}
		value := ""
		if i < len(row) {
			value = row[i]
		}

		if counter := rec.Counters.Ptr(name); counter != nil {
			n, ok := parseCounter(value)
			if !ok {
				issues = append(issues, Issue{Field: name, Value: value})
			}
			*counter = n
			continue
		}

		if field, ok := rec.Text(name); ok {
			*field = optional(value)
			continue
		}

		if rec.Extra == nil {
			rec.Extra = make(map[string]*string)
		}
		rec.Extra[name] = optional(value)
	}

	rec.ID = BuildDocumentID(
		models.StringOrEmpty(rec.StatusLink),
		models.StringOrEmpty(rec.StatusMessage),
		models.StringOrEmpty(rec.StatusPublished),
	)

	if rec.StatusPublished != nil {
		if _, ok := ParsePublished(*rec.StatusPublished); !ok {
			issues = append(issues, Issue{Field: models.FieldStatusPublished, Value: *rec.StatusPublished})
			rec.StatusPublished = nil
		}
	}

	return rec, issues
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
