// Package normalize maps the inference backend's varying response shapes onto
// the single shape UI consumers read.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/benjamin-med/medgate/internal/types"
	"github.com/valyala/fastjson"
)

var ErrUnrecognized = errors.New("unrecognized backend response")

var (
	contentKeys  = []string{"response", "content", "transcript", "answer", "text", "message"}
	citationKeys = [][]string{{"citations"}, {"sources"}, {"references"}, {"metadata", "citations"}, {"data", "citations"}}
	sourceKeys   = []string{"source", "type", "kind", "source_type"}
)

var parserPool fastjson.ParserPool

// Normalize reads a buffered backend body. A bare JSON string is taken as the
// content itself.
func Normalize(body []byte) (types.Normalized, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return types.Normalized{}, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}

	out := types.Normalized{Citations: []types.Citation{}}
	switch v.Type() {
	case fastjson.TypeString:
		out.Content = string(v.GetStringBytes())
		return out, nil
	case fastjson.TypeObject:
	default:
		return types.Normalized{}, fmt.Errorf("%w: top-level %s", ErrUnrecognized, v.Type())
	}

	out.Content = firstString(v, contentKeys...)
	out.Citations = citationsOf(v)
	out.Suggestions = suggestionsOf(v)
	return out, nil
}

func citationsOf(v *fastjson.Value) []types.Citation {
	for _, path := range citationKeys {
		arr := v.Get(path...)
		if arr == nil || arr.Type() != fastjson.TypeArray {
			continue
		}
		items, _ := arr.Array()
		return mapCitations(items)
	}
	return []types.Citation{}
}

func mapCitations(items []*fastjson.Value) []types.Citation {
	out := make([]types.Citation, 0, len(items))
	for i, item := range items {
		if item.Type() != fastjson.TypeObject {
			continue
		}
		out = append(out, mapCitation(i, item))
	}
	return out
}

func mapCitation(i int, item *fastjson.Value) types.Citation {
	pmid := field(item, "pmid")
	doi := field(item, "doi")
	kind := ClassifyKind(field(item, sourceKeys...), pmid != "", doi != "")

	c := types.Citation{
		Kind:  kind,
		Title: field(item, "title", "name"),
	}

	c.ID = field(item, "id")
	if c.ID == "" {
		c.ID = firstNonEmpty(pmid, doi, field(item, "external_id"), strconv.Itoa(i+1))
	}

	switch kind {
	case types.CitationPMID:
		c.Locator = firstNonEmpty(pmid, field(item, "value"), field(item, "url"))
	case types.CitationDOI:
		c.Locator = firstNonEmpty(doi, field(item, "value"), field(item, "url"))
	default:
		c.Locator = firstNonEmpty(field(item, "url", "spc_url"), field(item, "value"), field(item, "external_id"))
	}

	if year, ok := yearOf(item); ok {
		c.Year = &year
	}
	if authors := authorsOf(item); authors != "" {
		c.Authors = &authors
	}
	return c
}

// field returns the first of keys found as a scalar on the item, falling
// back to the item's nested metadata object.
func field(item *fastjson.Value, keys ...string) string {
	if s := firstString(item, keys...); s != "" {
		return s
	}
	if meta := item.Get("metadata"); meta != nil && meta.Type() == fastjson.TypeObject {
		return firstString(meta, keys...)
	}
	return ""
}

func firstString(v *fastjson.Value, keys ...string) string {
	for _, k := range keys {
		f := v.Get(k)
		if f == nil {
			continue
		}
		switch f.Type() {
		case fastjson.TypeString:
			if s := strings.TrimSpace(string(f.GetStringBytes())); s != "" {
				return s
			}
		case fastjson.TypeNumber:
			return f.String()
		}
	}
	return ""
}

func yearOf(item *fastjson.Value) (int, bool) {
	for _, src := range []*fastjson.Value{item, item.Get("metadata")} {
		if src == nil {
			continue
		}
		y := src.Get("year")
		if y == nil {
			continue
		}
		switch y.Type() {
		case fastjson.TypeNumber:
			if n, err := y.Int(); err == nil && n > 0 {
				return n, true
			}
		case fastjson.TypeString:
			if n, err := strconv.Atoi(strings.TrimSpace(string(y.GetStringBytes()))); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}

func authorsOf(item *fastjson.Value) string {
	for _, src := range []*fastjson.Value{item, item.Get("metadata")} {
		if src == nil {
			continue
		}
		a := src.Get("authors")
		if a == nil {
			continue
		}
		switch a.Type() {
		case fastjson.TypeString:
			if s := strings.TrimSpace(string(a.GetStringBytes())); s != "" {
				return s
			}
		case fastjson.TypeArray:
			vals, _ := a.Array()
			names := make([]string, 0, len(vals))
			for _, n := range vals {
				if n.Type() == fastjson.TypeString {
					if s := strings.TrimSpace(string(n.GetStringBytes())); s != "" {
						names = append(names, s)
					}
				}
			}
			if len(names) > 0 {
				return strings.Join(names, ", ")
			}
		}
	}
	return ""
}

func suggestionsOf(v *fastjson.Value) []string {
	for _, path := range [][]string{{"suggestions"}, {"data", "suggestions"}, {"metadata", "suggestions"}} {
		arr := v.Get(path...)
		if arr == nil || arr.Type() != fastjson.TypeArray {
			continue
		}
		items, _ := arr.Array()
		var out []string
		for _, s := range items {
			if s.Type() == fastjson.TypeString {
				out = append(out, string(s.GetStringBytes()))
			}
		}
		return out
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
