package models

import "encoding/json"

// Field names of the post document as stored in Elasticsearch.
const (
	FieldStatusMessage   = "status_message"
	FieldLinkName        = "link_name"
	FieldStatusType      = "status_type"
	FieldStatusLink      = "status_link"
	FieldStatusPublished = "status_published"

	FieldNumReactions = "num_reactions"
	FieldNumComments  = "num_comments"
	FieldNumShares    = "num_shares"
	FieldNumLikes     = "num_likes"
	FieldNumLoves     = "num_loves"
	FieldNumWows      = "num_wows"
	FieldNumHahas     = "num_hahas"
	FieldNumSads      = "num_sads"
	FieldNumAngrys    = "num_angrys"
)

// CounterFields lists the engagement counter columns in their canonical order.
var CounterFields = []string{
	FieldNumReactions,
	FieldNumComments,
	FieldNumShares,
	FieldNumLikes,
	FieldNumLoves,
	FieldNumWows,
	FieldNumHahas,
	FieldNumSads,
	FieldNumAngrys,
}

// TextFields lists the recognized textual columns.
var TextFields = []string{
	FieldStatusMessage,
	FieldLinkName,
	FieldStatusType,
	FieldStatusLink,
	FieldStatusPublished,
}

// Counters holds the nine engagement counters of a post.
type Counters struct {
	Reactions int
	Comments  int
	Shares    int
	Likes     int
	Loves     int
	Wows      int
	Hahas     int
	Sads      int
	Angrys    int
}

// Ptr returns the address of the counter stored under field, or nil when the
// field is not a counter.
func (c *Counters) Ptr(field string) *int {
	switch field {
	case FieldNumReactions:
		return &c.Reactions
	case FieldNumComments:
		return &c.Comments
	case FieldNumShares:
		return &c.Shares
	case FieldNumLikes:
		return &c.Likes
	case FieldNumLoves:
		return &c.Loves
	case FieldNumWows:
		return &c.Wows
	case FieldNumHahas:
		return &c.Hahas
	case FieldNumSads:
		return &c.Sads
	case FieldNumAngrys:
		return &c.Angrys
	}
	return nil
}

// Record is one normalized CSV row. Textual fields are nil when the source cell
// was empty or missing, which is stored as null instead of "".
type Record struct {
	ID string

	StatusMessage   *string
	LinkName        *string
	StatusType      *string
	StatusLink      *string
	StatusPublished *string

	Counters Counters

	// Extra carries unrecognized columns through to the document unchanged.
	Extra map[string]*string
}

// Text returns the textual field stored under name and whether name is a
// recognized textual column.
func (r *Record) Text(name string) (**string, bool) {
	switch name {
	case FieldStatusMessage:
		return &r.StatusMessage, true
	case FieldLinkName:
		return &r.LinkName, true
	case FieldStatusType:
		return &r.StatusType, true
	case FieldStatusLink:
		return &r.StatusLink, true
	case FieldStatusPublished:
		return &r.StatusPublished, true
	}
	return nil, false
}

// Document renders the record as the Elasticsearch _source body. Recognized
// fields win over passthrough columns with the same name.
func (r Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Extra)+len(TextFields)+len(CounterFields))
	for k, v := range r.Extra {
		doc[k] = v
	}

	doc[FieldStatusMessage] = r.StatusMessage
	doc[FieldLinkName] = r.LinkName
	doc[FieldStatusType] = r.StatusType
	doc[FieldStatusLink] = r.StatusLink
	doc[FieldStatusPublished] = r.StatusPublished

	for _, field := range CounterFields {
		doc[field] = *r.Counters.Ptr(field)
	}
	return doc
}

// MarshalJSON encodes the record as its document body.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

// StringOrEmpty dereferences s, treating nil as "".
func StringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
