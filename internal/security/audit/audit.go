package audit

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/firmdesk/firmdesk/internal/domain"
)

// Recorder appends privileged-action entries to the audit ledger. Recording
// is best-effort: a failure is logged and never propagated, so an audit
// outage cannot abort the business operation that triggered it.
type Recorder struct {
	repo   domain.AuditRepository
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[chan *domain.AuditEntry]struct{}
}

// NewRecorder creates an audit recorder.
func NewRecorder(repo domain.AuditRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:        repo,
		logger:      logger,
		subscribers: make(map[chan *domain.AuditEntry]struct{}),
	}
}

// Record appends one entry and fans it out to live subscribers.
func (r *Recorder) Record(ctx context.Context, entry *domain.AuditEntry) {
	if err := r.repo.Append(ctx, entry); err != nil {
		r.logger.Error("failed to append audit entry",
			slog.String("action", string(entry.ActionType)),
			slog.String("target", entry.TargetEntityID),
			slog.String("error", err.Error()),
		)
		return
	}

	r.logger.Info("audit",
		slog.String("action", string(entry.ActionType)),
		slog.String("performed_by", entry.PerformedBy),
		slog.String("target_type", entry.TargetEntityType),
		slog.String("target_id", entry.TargetEntityID),
	)

	r.mu.Lock()
	for ch := range r.subscribers {
		select {
		case ch <- entry:
		default: // slow subscriber, drop rather than block the recorder
		}
	}
	r.mu.Unlock()
}

// RecordRequest fills request metadata from an HTTP request before recording.
func (r *Recorder) RecordRequest(req *http.Request, entry *domain.AuditEntry) {
	entry.IPAddress = clientIP(req)
	entry.UserAgent = req.UserAgent()
	r.Record(req.Context(), entry)
}

// Subscribe registers a live tail of new entries. The returned cancel
// function must be called to release the channel.
func (r *Recorder) Subscribe() (<-chan *domain.AuditEntry, func()) {
	ch := make(chan *domain.AuditEntry, 16)
	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()
	cancel := func() {
		r.mu.Lock()
		delete(r.subscribers, ch)
		r.mu.Unlock()
	}
	return ch, cancel
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
