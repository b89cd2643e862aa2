// Package httpapi exposes the small operational HTTP surface a host or
// joiner process serves alongside its UDP socket: liveness/readiness probes,
// Prometheus-style metrics, and an admin-gated replay dump trigger. It is
// adapted from the teacher's broker HTTP handler set down to this protocol's
// single-session shape.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"duelforge/engine/internal/logging"
	"duelforge/engine/internal/networking"
	"duelforge/engine/internal/replay"
	"duelforge/engine/internal/session"
)

// ReadinessProvider exposes session state required for readiness checks.
type ReadinessProvider interface {
	Phase() session.Phase
	Uptime() time.Duration
}

// StatsFunc returns the current spectator connection count.
type StatsFunc func() (spectators int)

// ReplayDumper reports where the current replay artefacts live.
type ReplayDumper interface {
	DumpReplay(ctx context.Context) (string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context) (string, error)

// DumpReplay implements ReplayDumper.
func (f ReplayDumperFunc) DumpReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger        *logging.Logger
	Readiness     ReadinessProvider
	Stats         StatsFunc
	Bandwidth     *networking.BandwidthRegulator
	Replay        ReplayDumper
	AdminToken    string
	RateLimiter   RateLimiter
	TimeSource    func() time.Time
	ReplayStorage func() replay.StorageStats
}

// HandlerSet bundles the operational handlers for one host or joiner process.
type HandlerSet struct {
	logger        *logging.Logger
	readiness     ReadinessProvider
	stats         StatsFunc
	bandwidth     *networking.BandwidthRegulator
	replay        ReplayDumper
	adminToken    string
	rateLimiter   RateLimiter
	now           func() time.Time
	replayStorage func() replay.StorageStats
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
		logger:        logger,
		readiness:     opts.Readiness,
		stats:         opts.Stats,
		bandwidth:     opts.Bandwidth,
		replay:        opts.Replay,
		adminToken:    strings.TrimSpace(opts.AdminToken),
		rateLimiter:   opts.RateLimiter,
		now:           now,
		replayStorage: opts.ReplayStorage,
	}
}

// Register attaches all handlers to the provided mux, each wrapped in the
// trace middleware so every request carries a trace ID into its handler's
// logger and back out on the response headers.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	trace := logging.HTTPTraceMiddleware(h.logger)
	mux.Handle("/livez", trace(h.LivenessHandler()))
	mux.Handle("/readyz", trace(h.ReadinessHandler()))
	mux.Handle("/metrics", trace(h.MetricsHandler()))
	mux.Handle("/replay/dump", trace(h.ReplayDumpHandler()))
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

// ReadinessHandler reports the session's current phase and process uptime.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Phase         string  `json:"phase,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Phase = string(h.readiness.Phase())
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		if h.readiness != nil {
			fmt.Fprintf(w, "# HELP duelforge_uptime_seconds Process uptime in seconds.\n")
			fmt.Fprintf(w, "# TYPE duelforge_uptime_seconds gauge\n")
			fmt.Fprintf(w, "duelforge_uptime_seconds %.0f\n", h.readiness.Uptime().Seconds())
		}

		if h.stats != nil {
			fmt.Fprintf(w, "# HELP duelforge_spectators Current connected spectators.\n")
			fmt.Fprintf(w, "# TYPE duelforge_spectators gauge\n")
			fmt.Fprintf(w, "duelforge_spectators %d\n", h.stats())
		}

		if h.bandwidth != nil {
			usage := h.bandwidth.SnapshotUsage()
			if len(usage) > 0 {
				fmt.Fprintf(w, "# HELP duelforge_bandwidth_bytes_per_second Observed outbound bandwidth per spectator.\n")
				fmt.Fprintf(w, "# TYPE duelforge_bandwidth_bytes_per_second gauge\n")
				for clientID, sample := range usage {
					fmt.Fprintf(w, "duelforge_bandwidth_bytes_per_second{client=%q} %.2f\n", clientID, sample.BytesPerSecond)
				}
				fmt.Fprintf(w, "# HELP duelforge_bandwidth_denied_total Total throttled deliveries per spectator.\n")
				fmt.Fprintf(w, "# TYPE duelforge_bandwidth_denied_total counter\n")
				for clientID, sample := range usage {
					fmt.Fprintf(w, "duelforge_bandwidth_denied_total{client=%q} %d\n", clientID, sample.DeniedDeliveries)
				}
			}
		}

		if h.replayStorage != nil {
			storage := h.replayStorage()
			fmt.Fprintf(w, "# HELP duelforge_replay_storage_matches Replay artefacts currently retained.\n")
			fmt.Fprintf(w, "# TYPE duelforge_replay_storage_matches gauge\n")
			fmt.Fprintf(w, "duelforge_replay_storage_matches %d\n", storage.Matches)
			fmt.Fprintf(w, "# HELP duelforge_replay_storage_bytes Total on-disk size of retained replays in bytes.\n")
			fmt.Fprintf(w, "# TYPE duelforge_replay_storage_bytes gauge\n")
			fmt.Fprintf(w, "duelforge_replay_storage_bytes %d\n", storage.Bytes)
		}
	}
}

// ReplayDumpHandler authorises a replay dump request and reports the location
// returned by the configured ReplayDumper.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.LoggerFromContext(r.Context()).With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("replay dump denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.replay == nil {
			reqLogger.Warn("replay dump denied: no dumper configured")
			http.Error(w, "replay dumping is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.DumpReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay dump trigger failed", logging.Error(err))
			http.Error(w, "failed to trigger replay dump", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay dump triggered")
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
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
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
