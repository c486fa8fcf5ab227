package gateway

import (
	"bufio"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/benjamin-med/medgate/internal/normalize"
)

const streamInterrupted = `{"type":"error","content":"stream interrupted"}`

// streamNDJSON relays the backend's NDJSON stream line by line, rewriting
// citation metadata into normalized form. Headers are committed before the
// first line, so a failure mid-stream is reported in-band. With a positive
// window each write gets its own deadline instead of the server's.
func streamNDJSON(w http.ResponseWriter, reqID string, resp *http.Response, window time.Duration) {
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	rc := http.NewResponseController(w)
	extend := func() {
		if window <= 0 {
			return
		}
		if err := rc.SetWriteDeadline(time.Now().Add(window)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			slog.Debug("extending stream write deadline failed", "request_id", reqID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", reqID)
	extend()
	w.WriteHeader(http.StatusOK)
	flush()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out, err := normalize.NormalizeStreamLine(line)
		if err != nil {
			slog.Warn("passing through unparsable stream line", "request_id", reqID, "error", err)
			out = line
		}
		// out may alias the scanner's buffer.
		msg := make([]byte, 0, len(out)+1)
		msg = append(append(msg, out...), '\n')
		extend()
		if _, err := w.Write(msg); err != nil {
			slog.Debug("client went away during stream", "request_id", reqID, "error", err)
			return
		}
		flush()
	}

	if err := scanner.Err(); err != nil {
		slog.Error("error reading backend stream", "request_id", reqID, "error", err)
		extend()
		w.Write([]byte(streamInterrupted + "\n"))
		flush()
	}
}
