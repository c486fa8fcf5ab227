package normalize

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/benjamin-med/medgate/internal/types"
)

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		source string
		pmid   bool
		doi    bool
		want   types.CitationKind
	}{
		{"pubmed", false, false, types.CitationPMID},
		{"PubMed", false, false, types.CitationPMID},
		{"medline", false, false, types.CitationPMID},
		{"ncbi", false, false, types.CitationPMID},
		{"pmid", false, false, types.CitationPMID},
		{"doi", false, false, types.CitationDOI},
		{"crossref", false, false, types.CitationDOI},
		{"sukl", false, false, types.CitationDatabase},
		{"database", false, false, types.CitationDatabase},
		{"regulator", false, false, types.CitationDatabase},
		{"guidelines", false, false, types.CitationGuideline},
		{"other", true, false, types.CitationGuideline},
		{"something-new", false, false, types.CitationGuideline},
		{"", true, true, types.CitationPMID},
		{"", false, true, types.CitationDOI},
		{"", false, false, types.CitationGuideline},
	}

	for _, tt := range tests {
		if got := ClassifyKind(tt.source, tt.pmid, tt.doi); got != tt.want {
			t.Errorf("ClassifyKind(%q, %v, %v) = %s, want %s", tt.source, tt.pmid, tt.doi, got, tt.want)
		}
	}
}

func TestNormalize_QueryResponse(t *testing.T) {
	body := `{
		"response": "Metformin is contraindicated below eGFR 30.",
		"query_type": "quick",
		"citations": [
			{"source": "pubmed", "title": "Metformin in CKD", "url": "https://pubmed.ncbi.nlm.nih.gov/123/",
			 "metadata": {"pmid": "123", "doi": "10.1/x", "authors": ["Novak J", "Svoboda P"], "year": "2021"}},
			{"source": "sukl", "title": "SPC Glucophage", "url": "https://www.sukl.cz/x",
			 "metadata": {"external_id": "0012345"}},
			{"source": "other", "title": "Local protocol"}
		]
	}`

	got, err := Normalize([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "Metformin is contraindicated below eGFR 30." {
		t.Errorf("unexpected content %q", got.Content)
	}
	if len(got.Citations) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(got.Citations))
	}

	pub := got.Citations[0]
	if pub.Kind != types.CitationPMID || pub.ID != "123" || pub.Locator != "123" {
		t.Errorf("unexpected pubmed citation: %+v", pub)
	}
	if pub.Year == nil || *pub.Year != 2021 {
		t.Errorf("expected year 2021, got %v", pub.Year)
	}
	if pub.Authors == nil || *pub.Authors != "Novak J, Svoboda P" {
		t.Errorf("expected joined authors, got %v", pub.Authors)
	}

	sukl := got.Citations[1]
	if sukl.Kind != types.CitationDatabase || sukl.ID != "0012345" || sukl.Locator != "https://www.sukl.cz/x" {
		t.Errorf("unexpected sukl citation: %+v", sukl)
	}
	if sukl.Year != nil || sukl.Authors != nil {
		t.Errorf("expected absent year and authors, got %+v", sukl)
	}

	other := got.Citations[2]
	if other.Kind != types.CitationGuideline || other.ID != "3" {
		t.Errorf("unexpected fallback citation: %+v", other)
	}
}

func TestNormalize_ContentKeyPrecedence(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"transcript":"Patient reports chest pain."}`, "Patient reports chest pain."},
		{`{"answer":"a","text":"t"}`, "a"},
		{`{"response":"","content":"c"}`, "c"},
		{`{"message":"m"}`, "m"},
		{`"just a string"`, "just a string"},
		{`{}`, ""},
	}

	for _, tt := range tests {
		got, err := Normalize([]byte(tt.body))
		if err != nil {
			t.Fatalf("Normalize(%s): %v", tt.body, err)
		}
		if got.Content != tt.want {
			t.Errorf("Normalize(%s).Content = %q, want %q", tt.body, got.Content, tt.want)
		}
	}
}

func TestNormalize_AlternateCitationKeys(t *testing.T) {
	for _, body := range []string{
		`{"content":"x","sources":[{"type":"doi","doi":"10.1/abc","title":"T"}]}`,
		`{"content":"x","references":[{"kind":"crossref","doi":"10.1/abc","title":"T"}]}`,
		`{"content":"x","metadata":{"citations":[{"doi":"10.1/abc","title":"T"}]}}`,
	} {
		got, err := Normalize([]byte(body))
		if err != nil {
			t.Fatalf("Normalize(%s): %v", body, err)
		}
		if len(got.Citations) != 1 || got.Citations[0].Kind != types.CitationDOI || got.Citations[0].Locator != "10.1/abc" {
			t.Errorf("Normalize(%s) citations = %+v", body, got.Citations)
		}
	}
}

func TestNormalize_EmptyCitationsSerializeAsArray(t *testing.T) {
	got, err := Normalize([]byte(`{"response":"ok"}`))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(got)
	if !strings.Contains(string(data), `"citations":[]`) {
		t.Errorf("expected empty array, got %s", data)
	}
}

func TestNormalize_Suggestions(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"top level", `{"response":"x","suggestions":["Dose?","Contraindications?"]}`, []string{"Dose?", "Contraindications?"}},
		{"under data", `{"response":"x","data":{"suggestions":["Dose?"]}}`, []string{"Dose?"}},
		{"under metadata", `{"response":"x","metadata":{"suggestions":["Dose?",7,null]}}`, []string{"Dose?"}},
		{"absent", `{"response":"x"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(got.Suggestions, "|") != strings.Join(tt.want, "|") {
				t.Errorf("suggestions = %q, want %q", got.Suggestions, tt.want)
			}
			data, _ := json.Marshal(got)
			if hasKey := strings.Contains(string(data), `"suggestions"`); hasKey != (len(tt.want) > 0) {
				t.Errorf("unexpected suggestions key presence in %s", data)
			}
		})
	}
}

func TestNormalize_LeavesRoleToCaller(t *testing.T) {
	got, err := Normalize([]byte(`{"response":"ok"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != "" {
		t.Errorf("expected no role, got %q", got.Role)
	}
	data, _ := json.Marshal(got)
	if strings.Contains(string(data), `"role"`) {
		t.Errorf("expected role omitted, got %s", data)
	}
}

func TestNormalize_Unrecognized(t *testing.T) {
	for _, body := range []string{`not json`, `[1,2]`, `42`} {
		if _, err := Normalize([]byte(body)); !errors.Is(err, ErrUnrecognized) {
			t.Errorf("Normalize(%s): expected ErrUnrecognized, got %v", body, err)
		}
	}
}

func TestNormalize_SkipsNonObjectCitations(t *testing.T) {
	got, err := Normalize([]byte(`{"response":"x","citations":["bare", null, {"source":"pubmed","pmid":99}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Citations) != 1 || got.Citations[0].Locator != "99" {
		t.Errorf("unexpected citations: %+v", got.Citations)
	}
}

func TestNormalizeStreamLine(t *testing.T) {
	line := []byte(`{"type":"metadata","data":{"citations":[{"id":"sukl-db","type":"database","value":"sukl","title":"Databáze léků SÚKL (2025)","year":2025,"url":"https://www.sukl.cz/modules/medication/search.php"}],"suggestions":["Jaké je dávkování?"]}}`)

	out, err := NormalizeStreamLine(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed struct {
		Type string `json:"type"`
		Data struct {
			Citations   []types.Citation `json:"citations"`
			Suggestions []string         `json:"suggestions"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, out)
	}
	if parsed.Type != "metadata" || len(parsed.Data.Suggestions) != 1 {
		t.Errorf("expected surrounding fields preserved, got %s", out)
	}
	if len(parsed.Data.Citations) != 1 {
		t.Fatalf("expected one citation, got %s", out)
	}
	c := parsed.Data.Citations[0]
	if c.ID != "sukl-db" || c.Kind != types.CitationDatabase || c.Locator != "https://www.sukl.cz/modules/medication/search.php" {
		t.Errorf("unexpected citation %+v", c)
	}
	if c.Year == nil || *c.Year != 2025 {
		t.Errorf("expected year 2025, got %v", c.Year)
	}
}

func TestNormalizeStreamLine_PassThrough(t *testing.T) {
	for _, line := range []string{
		`{"type":"token","content":"Met"}`,
		`{"type":"error","content":"boom"}`,
		`{"type":"metadata","data":{}}`,
		``,
	} {
		out, err := NormalizeStreamLine([]byte(line))
		if err != nil {
			t.Fatalf("NormalizeStreamLine(%s): %v", line, err)
		}
		if string(out) != line {
			t.Errorf("expected %s unchanged, got %s", line, out)
		}
	}
}
