package normalize

import (
	"strings"

	"github.com/benjamin-med/medgate/internal/types"
)

// ClassifyKind maps a backend's free-form source label onto a citation kind.
// Without a label the presence of an identifier decides; anything that
// cannot be placed is a guideline.
func ClassifyKind(source string, hasPMID, hasDOI bool) types.CitationKind {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "pubmed", "pmid", "medline", "ncbi":
		return types.CitationPMID
	case "doi", "crossref":
		return types.CitationDOI
	case "sukl", "database", "regulator":
		return types.CitationDatabase
	case "":
		switch {
		case hasPMID:
			return types.CitationPMID
		case hasDOI:
			return types.CitationDOI
		}
		return types.CitationGuideline
	default:
		return types.CitationGuideline
	}
}
