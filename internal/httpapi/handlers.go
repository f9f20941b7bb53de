package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"livekit-feed/internal/feed"
	"livekit-feed/internal/logging"
)

// RoomSnapshot reports one room driver's current state for the
// readiness and metrics surfaces.
type RoomSnapshot struct {
	RoomID         feed.RoomID
	State          string
	ConnectedSince time.Time
	LastError      string
	RowsWritten    uint64
}

// ReadinessProvider exposes recorder state required for readiness checks.
type ReadinessProvider interface {
	RoomSnapshots() []RoomSnapshot
	StartupError() error
	Uptime() time.Duration
}

// StatsFunc returns cumulative rows and bytes persisted across all rooms.
type StatsFunc func() (rowsWritten, bytesWritten uint64)

// Archiver triggers an out-of-band archive pass and reports what it did.
type Archiver interface {
	Trigger(ctx context.Context) (string, error)
}

// ArchiverFunc adapts a function into an Archiver.
type ArchiverFunc func(ctx context.Context) (string, error)

// Trigger implements Archiver.
func (f ArchiverFunc) Trigger(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Stats       StatsFunc
	Archiver    Archiver
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the recorder's operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	stats       StatsFunc
	archiver    Archiver
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		stats:       opts.Stats,
		archiver:    opts.Archiver,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/archive/trigger", h.ArchiveTriggerHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports recorder readiness: room driver counts by
// state and any error raised during startup.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		TotalRooms     int     `json:"total_rooms"`
		StreamingRooms int     `json:"streaming_rooms"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			rooms := h.readiness.RoomSnapshots()
			resp.TotalRooms = len(rooms)
			for _, room := range rooms {
				if room.State == "streaming" {
					resp.StreamingRooms++
				}
			}
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, bytesWritten := h.metricsStats()
		uptime := 0.0
		var rooms []RoomSnapshot
		if h.readiness != nil {
			uptime = h.readiness.Uptime().Seconds()
			rooms = h.readiness.RoomSnapshots()
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP feedrec_uptime_seconds Recorder uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE feedrec_uptime_seconds gauge\n")
		fmt.Fprintf(w, "feedrec_uptime_seconds %.0f\n", uptime)

		fmt.Fprintf(w, "# HELP feedrec_rooms Room drivers currently tracked.\n")
		fmt.Fprintf(w, "# TYPE feedrec_rooms gauge\n")
		fmt.Fprintf(w, "feedrec_rooms %d\n", len(rooms))

		fmt.Fprintf(w, "# HELP feedrec_rows_written_total Total kvlog rows persisted across all rooms.\n")
		fmt.Fprintf(w, "# TYPE feedrec_rows_written_total counter\n")
		fmt.Fprintf(w, "feedrec_rows_written_total %d\n", rows)

		fmt.Fprintf(w, "# HELP feedrec_bytes_written_total Total payload bytes persisted across all rooms.\n")
		fmt.Fprintf(w, "# TYPE feedrec_bytes_written_total counter\n")
		fmt.Fprintf(w, "feedrec_bytes_written_total %d\n", bytesWritten)

		if len(rooms) > 0 {
			fmt.Fprintf(w, "# HELP feedrec_room_state Room driver state machine position (1 for the active state).\n")
			fmt.Fprintf(w, "# TYPE feedrec_room_state gauge\n")
			for _, room := range rooms {
				fmt.Fprintf(w, "feedrec_room_state{room=%q,state=%q} 1\n", roomLabel(room.RoomID), room.State)
			}
			fmt.Fprintf(w, "# HELP feedrec_room_rows_written_total Rows persisted for a single room.\n")
			fmt.Fprintf(w, "# TYPE feedrec_room_rows_written_total counter\n")
			for _, room := range rooms {
				fmt.Fprintf(w, "feedrec_room_rows_written_total{room=%q} %d\n", roomLabel(room.RoomID), room.RowsWritten)
			}
		}
	}
}

// ArchiveTriggerHandler authorises and triggers an out-of-band archive
// pass, gated by the admin token and the sliding-window rate limiter.
func (h *HandlerSet) ArchiveTriggerHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
		Detail string `json:"detail,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "archive_trigger"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("archive trigger denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("archive trigger denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("archive trigger denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.archiver == nil {
			reqLogger.Warn("archive trigger denied: no archiver configured")
			http.Error(w, "archiving is unavailable", http.StatusServiceUnavailable)
			return
		}
		detail, err := h.archiver.Trigger(r.Context())
		if err != nil {
			reqLogger.Error("archive trigger failed", logging.Error(err))
			http.Error(w, "failed to trigger archive pass", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("archive pass triggered", logging.String("detail", detail))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Detail: detail})
	}
}

func (h *HandlerSet) metricsStats() (rows, bytesWritten uint64) {
	if h.stats != nil {
		return h.stats()
	}
	return 0, 0
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1 {
		return true
	}
	return false
}

func roomLabel(id feed.RoomID) string {
	return fmt.Sprintf("%d", id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
