// Package shaper builds the outbound inference-backend request for an allowed
// protected API call.
package shaper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/route"
	"github.com/benjamin-med/medgate/internal/types"
)

var (
	ErrOversizeUpload   = errors.New("payload too large")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrShapingInvariant = errors.New("shaping invariant violated")
)

type Shaper struct {
	urlFor func(path string) string
	limits func() config.UploadsConfig
}

// New returns a shaper that addresses the backend through urlFor.
func New(urlFor func(path string) string, limits func() config.UploadsConfig) *Shaper {
	return &Shaper{urlFor: urlFor, limits: limits}
}

// Shape builds the backend request for rt from the inbound request. The
// returned request always carries the caller's access token as a bearer.
func (s *Shaper) Shape(ctx context.Context, rt config.APIRouteEntry, class types.RouteClass, id *types.Identity, in *http.Request) (*http.Request, error) {
	if id == nil && class.RequiresIdentity() {
		return nil, fmt.Errorf("%w: no identity for %s route %s", ErrShapingInvariant, class, rt.Path)
	}
	if id != nil && id.Session.AccessToken == "" {
		return nil, fmt.Errorf("%w: identity %s has no access token", ErrShapingInvariant, id.UserID)
	}
	if !rt.AllowsMethod(in.Method) {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, in.Method)
	}

	var (
		out *http.Request
		err error
	)
	switch rt.Kind {
	case types.KindChat, types.KindChatStream:
		out, err = s.shapeChat(ctx, rt, in)
	case types.KindJSON:
		out, err = s.shapeJSON(ctx, rt, in)
	case types.KindMultipart:
		out, err = s.shapeMultipart(ctx, rt, in)
	case types.KindPassthrough:
		out, err = s.shapePassthrough(ctx, rt, in)
	default:
		return nil, fmt.Errorf("%w: unknown route kind %q", ErrShapingInvariant, rt.Kind)
	}
	if err != nil {
		return nil, err
	}

	if id != nil {
		out.Header.Set("Authorization", "Bearer "+id.Session.AccessToken)
	}
	if rt.Kind == types.KindChatStream {
		out.Header.Set("Accept", "application/x-ndjson")
	} else {
		out.Header.Set("Accept", "application/json")
	}
	return out, nil
}

func (s *Shaper) shapeChat(ctx context.Context, rt config.APIRouteEntry, in *http.Request) (*http.Request, error) {
	data, err := s.readJSON(in)
	if err != nil {
		return nil, err
	}

	var req types.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	q, err := SplitChat(req)
	if err != nil {
		return nil, err
	}
	if rt.Kind != types.KindChatStream {
		q.SessionID = ""
	}
	return s.jsonRequest(ctx, rt, q)
}

// SplitChat turns an inbound chat body into the backend query. An explicit
// message makes every supplied turn history; otherwise the last user turn
// becomes the message and the remaining turns, in order, the history. The
// caller's turns are copied, never modified.
func SplitChat(req types.ChatRequest) (types.QueryRequest, error) {
	turns := req.Messages
	if len(turns) == 0 {
		turns = req.History
	}
	for i, t := range turns {
		if t.Role != types.RoleUser && t.Role != types.RoleAssistant {
			return types.QueryRequest{}, fmt.Errorf("%w: turn %d has role %q", ErrInvalidPayload, i, t.Role)
		}
	}

	out := types.QueryRequest{SessionID: req.SessionID}
	if req.Message != "" {
		out.Message = req.Message
		out.History = append(make([]types.ChatTurn, 0, len(turns)), turns...)
		return out, nil
	}

	last := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == types.RoleUser {
			last = i
			break
		}
	}
	if last < 0 || turns[last].Content == "" {
		return types.QueryRequest{}, fmt.Errorf("%w: no user message", ErrInvalidPayload)
	}

	out.Message = turns[last].Content
	out.History = make([]types.ChatTurn, 0, len(turns)-1)
	out.History = append(out.History, turns[:last]...)
	out.History = append(out.History, turns[last+1:]...)
	return out, nil
}

func (s *Shaper) shapeJSON(ctx context.Context, rt config.APIRouteEntry, in *http.Request) (*http.Request, error) {
	data, err := s.readJSON(in)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON object: %v", ErrInvalidPayload, err)
	}

	kept := make(map[string]json.RawMessage, len(rt.Fields))
	for _, name := range rt.Fields {
		if v, ok := fields[name]; ok {
			kept[name] = v
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: none of %v present", ErrInvalidPayload, rt.Fields)
	}
	return s.jsonRequest(ctx, rt, kept)
}

// shapeMultipart streams the body through untouched. A declared length over
// the ceiling fails before anything is sent; an undeclared one is cut off
// at the ceiling while streaming.
func (s *Shaper) shapeMultipart(ctx context.Context, rt config.APIRouteEntry, in *http.Request) (*http.Request, error) {
	ct := in.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		return nil, fmt.Errorf("%w: expected multipart/form-data, got %q", ErrInvalidPayload, ct)
	}

	limit := s.limits().MaxBytes
	if limit > 0 && in.ContentLength > limit {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrOversizeUpload, in.ContentLength, limit)
	}

	body := in.Body
	if limit > 0 {
		body = http.MaxBytesReader(nil, in.Body, limit)
	}

	out, err := http.NewRequestWithContext(ctx, http.MethodPost, s.urlFor(rt.UpstreamPath), body)
	if err != nil {
		return nil, fmt.Errorf("create backend request: %w", err)
	}
	out.ContentLength = in.ContentLength
	out.Header.Set("Content-Type", ct)
	return out, nil
}

// shapePassthrough forwards method, query string and body as sent. A body is
// buffered under the JSON ceiling whatever its content type.
func (s *Shaper) shapePassthrough(ctx context.Context, rt config.APIRouteEntry, in *http.Request) (*http.Request, error) {
	var body io.Reader
	if in.Body != nil && in.Body != http.NoBody && in.ContentLength != 0 {
		data, err := s.readCapped(in)
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			body = bytes.NewReader(data)
		}
	}

	target := s.urlFor(rt.UpstreamFor(route.CleanPath(in.URL.Path)))
	if in.URL.RawQuery != "" {
		target += "?" + in.URL.RawQuery
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create backend request: %w", err)
	}
	if body != nil {
		if ct := in.Header.Get("Content-Type"); ct != "" {
			out.Header.Set("Content-Type", ct)
		}
	}
	return out, nil
}

func (s *Shaper) readJSON(in *http.Request) ([]byte, error) {
	if ct := in.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return nil, fmt.Errorf("%w: expected application/json, got %q", ErrInvalidPayload, ct)
		}
	}

	data, err := s.readCapped(in)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	return data, nil
}

func (s *Shaper) readCapped(in *http.Request) ([]byte, error) {
	limit := s.limits().MaxJSONBytes
	if limit > 0 && in.ContentLength > limit {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrOversizeUpload, in.ContentLength, limit)
	}

	body := in.Body
	if limit > 0 {
		body = http.MaxBytesReader(nil, in.Body, limit)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrOversizeUpload, mbe.Limit)
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

func (s *Shaper) jsonRequest(ctx context.Context, rt config.APIRouteEntry, v any) (*http.Request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal backend body: %w", err)
	}
	out, err := http.NewRequestWithContext(ctx, http.MethodPost, s.urlFor(rt.UpstreamPath), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create backend request: %w", err)
	}
	out.Header.Set("Content-Type", "application/json")
	return out, nil
}

// IsOversize reports whether err came from a body cut off at its ceiling,
// either up front or while streaming to the backend.
func IsOversize(err error) bool {
	var mbe *http.MaxBytesError
	return errors.Is(err, ErrOversizeUpload) || errors.As(err, &mbe)
}
