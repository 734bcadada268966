package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/featureflags"
	"github.com/firmdesk/firmdesk/internal/security/audit"
)

// AuditHandler exposes the superadmin audit ledger: a REST listing and a
// websocket live tail.
type AuditHandler struct {
	repo           domain.AuditRepository
	recorder       *audit.Recorder
	flags          *featureflags.Flags
	allowedOrigins []string
	logger         *slog.Logger
}

// NewAuditHandler creates an audit handler.
func NewAuditHandler(
	repo domain.AuditRepository,
	recorder *audit.Recorder,
	flags *featureflags.Flags,
	allowedOrigins []string,
	logger *slog.Logger,
) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{
		repo:           repo,
		recorder:       recorder,
		flags:          flags,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// List handles GET /api/superadmin/audit. Filter by target entity
// (?entityType=firm&entityId=...) or by performer and time range
// (?performedBy=...&from=...&to=...).
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if entityType := q.Get("entityType"); entityType != "" {
		entries, err := h.repo.ListByTarget(r.Context(), entityType, q.Get("entityId"))
		if err != nil {
			writeErr(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	performedBy := q.Get("performedBy")
	if performedBy == "" {
		writeErr(w, h.logger, domain.E(domain.KindValidation, domain.CodeValidationError,
			"either entityType or performedBy is required"))
		return
	}

	from, to, err := parseTimeRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}

	entries, err := h.repo.ListByPerformer(r.Context(), performedBy, from, to)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseTimeRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now()
	if fromRaw != "" {
		parsed, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return from, to, domain.E(domain.KindValidation, domain.CodeValidationError, "from must be RFC 3339").WithField("from")
		}
		from = parsed
	}
	if toRaw != "" {
		parsed, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return from, to, domain.E(domain.KindValidation, domain.CodeValidationError, "to must be RFC 3339").WithField("to")
		}
		to = parsed
	}
	return from, to, nil
}

func (h *AuditHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no origin.
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// Stream handles GET /ws/superadmin/audit: a live tail of new audit entries
// over a websocket. Gated behind the audit_stream feature flag.
func (h *AuditHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if !h.flags.Enabled(featureflags.AuditStream) {
		writeErr(w, h.logger, domain.E(domain.KindNotFound, "", "not found"))
		return
	}

	upgrader := h.upgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	entries, cancel := h.recorder.Subscribe()
	defer cancel()

	// Heartbeat ping keeps idle connections alive through proxies.
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		case entry := <-entries:
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("audit stream closed")
				}
				return
			}
		}
	}
}
