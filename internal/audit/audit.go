// Package audit appends one row per access decision to the access_audit table.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const insertEntry = `INSERT INTO access_audit
	(request_id, user_id, method, path, class, decision, status, duration_ms, created_at)
	VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)`

// Entry is one access decision.
type Entry struct {
	RequestID  string
	UserID     string
	Method     string
	Path       string
	Class      string
	Decision   string
	Status     int
	DurationMs int64
	At         time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder writes entries without blocking the request path.
type Recorder struct {
	db      execer
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRecorder returns a Recorder writing to db. A nil db makes every Record
// a no-op.
func NewRecorder(db execer) *Recorder {
	return &Recorder{db: db, timeout: 2 * time.Second}
}

func (r *Recorder) Record(e Entry) {
	if r == nil || r.db == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		_, err := r.db.Exec(ctx, insertEntry,
			e.RequestID, e.UserID, e.Method, e.Path, e.Class, e.Decision, e.Status, e.DurationMs, e.At,
		)
		if err != nil {
			slog.Warn("audit insert failed", "request_id", e.RequestID, "error", err)
		}
	}()
}

// Wait blocks until pending writes finish or ctx is done.
func (r *Recorder) Wait(ctx context.Context) {
	if r == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
