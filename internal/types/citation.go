package types

type CitationKind string

const (
	CitationPMID      CitationKind = "pmid"
	CitationDOI       CitationKind = "doi"
	CitationGuideline CitationKind = "guideline"
	CitationDatabase  CitationKind = "database"
)

// Citation is the normalized reference record attached to an answer.
// Year and Authors stay nil when the backend did not report them.
type Citation struct {
	ID      string       `json:"id"`
	Kind    CitationKind `json:"kind"`
	Title   string       `json:"title"`
	Locator string       `json:"locator"`
	Year    *int         `json:"year,omitempty"`
	Authors *string      `json:"authors,omitempty"`
}

// Normalized is the single response shape returned to UI consumers for every
// backend call. Citations is never nil so it always serializes as an array.
// Role is only set on chat replies.
type Normalized struct {
	Role        string     `json:"role,omitempty"`
	Content     string     `json:"content"`
	Citations   []Citation `json:"citations"`
	Suggestions []string   `json:"suggestions,omitempty"`
}
