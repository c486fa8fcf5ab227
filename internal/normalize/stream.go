package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/valyala/fastjson"
)

// NormalizeStreamLine rewrites the citation list of an NDJSON metadata line
// into normalized form, wherever in the line it sits. Token, error and
// unknown lines are returned unchanged.
func NormalizeStreamLine(line []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return line, nil
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: stream line: %v", ErrUnrecognized, err)
	}
	if v.Type() != fastjson.TypeObject || string(v.GetStringBytes("type")) != "metadata" {
		return line, nil
	}

	for _, path := range citationKeys {
		arr := v.Get(path...)
		if arr == nil || arr.Type() != fastjson.TypeArray {
			continue
		}
		items, _ := arr.Array()
		data, err := json.Marshal(mapCitations(items))
		if err != nil {
			return nil, fmt.Errorf("marshal citations: %w", err)
		}
		var cp fastjson.Parser
		normalized, err := cp.ParseBytes(data)
		if err != nil {
			return nil, fmt.Errorf("reparse citations: %w", err)
		}

		parent := v
		if len(path) > 1 {
			parent = v.Get(path[:len(path)-1]...)
		}
		parent.Set(path[len(path)-1], normalized)
		return v.MarshalTo(nil), nil
	}
	return line, nil
}
