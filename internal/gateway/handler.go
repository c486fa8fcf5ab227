// Package gateway runs every inbound request through classification, session
// resolution and the access decision, then forwards allowed API calls to the
// inference backend and everything else to the frontend.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/benjamin-med/medgate/internal/access"
	"github.com/benjamin-med/medgate/internal/audit"
	"github.com/benjamin-med/medgate/internal/auth"
	"github.com/benjamin-med/medgate/internal/backend"
	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/httputil"
	"github.com/benjamin-med/medgate/internal/normalize"
	"github.com/benjamin-med/medgate/internal/ratelimit"
	"github.com/benjamin-med/medgate/internal/route"
	"github.com/benjamin-med/medgate/internal/shaper"
	"github.com/benjamin-med/medgate/internal/telemetry"
	"github.com/benjamin-med/medgate/internal/types"
)

// maxBackendBody bounds buffered (non-streaming) backend responses.
const maxBackendBody = 16 << 20

// Deps are the collaborators of a Handler. Limiter, Metrics, Audit and
// StreamWindow may be nil.
type Deps struct {
	Routes   *route.Live
	Session  func() config.SessionConfig
	Verifier *auth.Verifier
	Engine   *access.Engine
	Shaper   *shaper.Shaper
	Backend  *backend.Client
	Frontend http.Handler
	Limiter  *ratelimit.Guard
	Metrics  *telemetry.Metrics
	Audit    *audit.Recorder
	// StreamWindow bounds the gap between NDJSON writes. Each write pushes
	// the connection's write deadline out by this much.
	StreamWindow func() time.Duration
}

// Handler is the gateway pipeline. It serves every path the chi router does
// not claim for itself.
type Handler struct {
	Deps
	now func() time.Time
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	reqID := requestID(w, r)
	classifier := h.Routes.Load()

	// Everything downstream sees the path that was classified.
	if canonical := route.CleanPath(r.URL.Path); canonical != r.URL.Path {
		r.URL.Path = canonical
		r.URL.RawPath = ""
	}

	if classifier.Excluded(r.URL.Path) {
		h.Frontend.ServeHTTP(w, r)
		return
	}

	slog.Debug("request received", "request_id", reqID, "stage", string(types.StageReceived), "path", r.URL.Path)
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	class := classifier.Classify(r.URL.Path)
	reached := types.StageClassified

	sessionCfg := h.Session()
	res := h.Verifier.Resolve(r.Context(), auth.ExtractSession(r, sessionCfg))
	if res.Outcome != auth.RefreshSkipped && h.Metrics != nil {
		h.Metrics.RecordRefresh(string(res.Outcome))
	}
	if res.Refreshed {
		auth.SetSessionCookies(ww, res.Session, sessionCfg, h.now())
		auth.ApplySession(r, res.Session, sessionCfg)
	}
	reached = types.StageVerified

	out := h.Engine.Evaluate(r.Context(), access.Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}, class, res.Identity)
	reached = types.StageDecided

	switch out.Decision {
	case types.DecisionRedirectToLogin, types.DecisionRedirectToApp:
		http.Redirect(ww, r, out.Location, out.Status)
	case types.DecisionReject:
		if out.Status == http.StatusForbidden {
			httputil.WriteForbidden(ww, reqID)
		} else {
			httputil.WriteUnauthorized(ww, reqID)
		}
	case types.DecisionAllow:
		if class.IsAPI() {
			h.forward(ww, r, reqID, classifier, class, res.Identity, &reached)
		} else {
			h.Frontend.ServeHTTP(ww, r)
			reached = types.StageForwarded
		}
	}

	h.finish(r, reqID, class, out, res.Identity, ww.Status(), reached, start)
}

// forward serves an allowed protected API call from the inference backend.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, reqID string, classifier *route.Classifier, class types.RouteClass, id *types.Identity, reached *types.Stage) {
	rt, ok := classifier.Route(r.URL.Path)
	if !ok {
		httputil.WriteNotFound(w, reqID)
		return
	}

	if h.Limiter != nil && id != nil {
		if allowed, retryAfter := h.Limiter.Check(r.Context(), w, id.UserID, rt); !allowed {
			httputil.WriteRateLimit(w, reqID, retryAfter)
			return
		}
	}

	start := h.now()
	status := h.send(w, r, reqID, rt, class, id, reached)
	if h.Metrics != nil {
		h.Metrics.RecordForward(rt.UpstreamPath, status, float64(h.now().Sub(start).Milliseconds()))
	}
}

// send shapes, forwards and answers one API call and returns the status
// written to the caller.
func (h *Handler) send(w http.ResponseWriter, r *http.Request, reqID string, rt config.APIRouteEntry, class types.RouteClass, id *types.Identity, reached *types.Stage) int {
	outbound, err := h.Shaper.Shape(r.Context(), rt, class, id, r)
	if err != nil {
		return writeShapeError(w, reqID, rt, err)
	}

	stream := rt.Kind == types.KindChatStream
	resp, err := h.Backend.Do(outbound, !stream)
	if err != nil {
		if shaper.IsOversize(err) {
			httputil.WritePayloadTooLarge(w, reqID)
			return http.StatusRequestEntityTooLarge
		}
		return h.writeUpstreamError(w, reqID, rt, err)
	}
	defer resp.Body.Close()
	*reached = types.StageForwarded

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Warn("backend returned error",
			"request_id", reqID,
			"route", rt.Path,
			"status", resp.StatusCode,
			"body", string(detail),
		)
		httputil.WriteBackendError(w, reqID, resp.StatusCode)
		return resp.StatusCode
	}

	if stream {
		streamNDJSON(w, reqID, resp, h.streamWindow())
		*reached = types.StageNormalized
		return http.StatusOK
	}
	if rt.ResponseMode() == types.ResponsePassthrough {
		status := relay(w, reqID, rt, resp)
		*reached = types.StageNormalized
		return status
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		slog.Error("reading backend response failed", "request_id", reqID, "route", rt.Path, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			httputil.WriteGatewayTimeout(w, reqID)
			return http.StatusGatewayTimeout
		}
		httputil.WriteBadGateway(w, reqID)
		return http.StatusBadGateway
	}

	normalized, err := normalize.Normalize(body)
	if err != nil {
		slog.Error("backend response not recognized", "request_id", reqID, "route", rt.Path, "error", err)
		httputil.WriteBadGateway(w, reqID)
		return http.StatusBadGateway
	}
	if rt.Kind == types.KindChat {
		normalized.Role = types.RoleAssistant
	}
	*reached = types.StageNormalized
	httputil.WriteJSON(w, reqID, http.StatusOK, normalized)
	return http.StatusOK
}

// relay copies a successful backend reply to the caller as it is. Only the
// content type crosses over from the backend's headers.
func relay(w http.ResponseWriter, reqID string, rt config.APIRouteEntry, resp *http.Response) int {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxBackendBody)); err != nil {
		slog.Warn("relaying backend response failed", "request_id", reqID, "route", rt.Path, "error", err)
	}
	return resp.StatusCode
}

func (h *Handler) streamWindow() time.Duration {
	if h.StreamWindow == nil {
		return 0
	}
	return h.StreamWindow()
}

func writeShapeError(w http.ResponseWriter, reqID string, rt config.APIRouteEntry, err error) int {
	switch {
	case errors.Is(err, shaper.ErrOversizeUpload):
		slog.Warn("upload rejected", "request_id", reqID, "route", rt.Path, "error", err)
		httputil.WritePayloadTooLarge(w, reqID)
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, shaper.ErrInvalidPayload):
		httputil.WriteBadRequest(w, reqID, "Invalid request body")
		return http.StatusBadRequest
	case errors.Is(err, shaper.ErrMethodNotAllowed):
		httputil.WriteMethodNotAllowed(w, reqID)
		return http.StatusMethodNotAllowed
	default:
		slog.Error("request shaping failed", "request_id", reqID, "route", rt.Path, "error", err)
		httputil.WriteInternal(w, reqID)
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeUpstreamError(w http.ResponseWriter, reqID string, rt config.APIRouteEntry, err error) int {
	status := backend.Status(err)
	var ue *backend.UpstreamError
	reason := string(backend.FailureTransport)
	if errors.As(err, &ue) {
		reason = string(ue.Kind)
		if ue.Kind == backend.FailureCanceled {
			slog.Debug("caller went away before backend answered", "request_id", reqID, "route", rt.Path)
		}
	}
	slog.Error("backend request failed",
		"request_id", reqID,
		"route", rt.Path,
		"reason", reason,
		"error", err,
	)
	if h.Metrics != nil {
		h.Metrics.RecordUpstreamError(h.Backend.Name(), reason)
	}

	switch status {
	case http.StatusServiceUnavailable:
		httputil.WriteServiceUnavailable(w, reqID)
	case http.StatusGatewayTimeout:
		httputil.WriteGatewayTimeout(w, reqID)
	default:
		httputil.WriteBadGateway(w, reqID)
	}
	return status
}

// finish logs the terminal state of the request and records it.
func (h *Handler) finish(r *http.Request, reqID string, class types.RouteClass, out access.Outcome, id *types.Identity, status int, reached types.Stage, start time.Time) {
	if status == 0 {
		status = http.StatusOK
	}
	stage := terminalStage(out.Decision, status)
	var userID string
	if id != nil {
		userID = id.UserID
	}
	duration := h.now().Sub(start)

	attrs := []any{
		"request_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
		"class", string(class),
		"decision", string(out.Decision),
		"stage", string(stage),
		"last_stage", string(reached),
		"user_id", userID,
		"status", status,
		"duration_ms", duration.Milliseconds(),
	}
	if out.Reason != "" {
		attrs = append(attrs, "reason", out.Reason)
	}
	if status >= 500 {
		slog.Warn("request finished", attrs...)
	} else {
		slog.Info("request finished", attrs...)
	}

	if h.Metrics != nil {
		h.Metrics.RecordRequest(string(class), string(out.Decision))
	}
	h.Audit.Record(audit.Entry{
		RequestID:  reqID,
		UserID:     userID,
		Method:     r.Method,
		Path:       r.URL.Path,
		Class:      string(class),
		Decision:   string(out.Decision),
		Status:     status,
		DurationMs: duration.Milliseconds(),
	})
}

// terminalStage is where a request ends up. An allowed request that still
// produced an error status ends rejected.
func terminalStage(d types.Decision, status int) types.Stage {
	if d == types.DecisionAllow && status >= 400 {
		return types.StageRejected
	}
	return d.Terminal()
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := w.Header().Get("X-Request-ID"); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}
