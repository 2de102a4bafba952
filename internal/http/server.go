package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/log"
	"bilancio/internal/services"
)

// EntityReader loads the planning entities of a group.
type EntityReader interface {
	ListAccounts(ctx context.Context, groupID string) ([]core.Account, error)
	ListRecurringEvents(ctx context.Context, groupID string) ([]core.RecurringCashEvent, error)
	ListSingleShotExpenses(ctx context.Context, groupID string) ([]core.SingleShotExpense, error)
	ListStatements(ctx context.Context, groupID string) ([]core.CreditCardStatement, error)
}

// SnapshotStore persists and retrieves projection snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, groupID string, snap *core.ProjectionSnapshot) error
	LatestSnapshot(ctx context.Context, groupID string) (*core.ProjectionSnapshot, error)
}

// CheckpointStore tracks the last month-boundary check per group.
type CheckpointStore interface {
	Checkpoint(ctx context.Context, groupID string) (time.Time, error)
	AdvanceCheckpoint(ctx context.Context, groupID string, checked time.Time) error
}

// InvalidationPublisher notifies other processes that cached projections
// for a group are stale. Optional; a nil publisher disables notification.
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, groupID, reason string) error
}

type Server struct {
	http.Server

	entities    EntityReader
	snapshots   SnapshotStore
	checkpoints CheckpointStore
	progression ProgressionRunner
	publisher   InvalidationPublisher
	projector   *services.Projector

	defaultHorizonDays int
	rateLimiter        *rateLimiter
	structured         *log.StructuredLogger

	// snapCache keeps the freshest snapshot per group so repeated latest
	// requests skip storage entirely.
	snapCache *cache.TTLCache[*core.ProjectionSnapshot]

	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run http.Server.
func NewServer(
	addr string,
	entities EntityReader,
	snapshots SnapshotStore,
	checkpoints CheckpointStore,
	progression ProgressionRunner,
	publisher InvalidationPublisher,
	defaultHorizonDays int,
) *Server {
	mux := http.NewServeMux()
	logger := log.New(log.DefaultConfig())

	s := &Server{
		entities:           entities,
		snapshots:          snapshots,
		checkpoints:        checkpoints,
		progression:        progression,
		publisher:          publisher,
		projector:          services.NewProjector(),
		defaultHorizonDays: defaultHorizonDays,
		rateLimiter:        newRateLimiter(),
		structured:         log.NewStructuredLogger(logger),
		snapCache:          cache.New[*core.ProjectionSnapshot](100, 5*time.Minute),
	}
	s.snapCache.StartSweeper(10 * time.Minute)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)
	mux.HandleFunc("/api/projection", s.withRequestLogging(s.handleProjection))
	mux.HandleFunc("/api/projection/latest", s.withRequestLogging(s.handleLatestSnapshot))
	mux.HandleFunc("/api/progression/check", s.withRequestLogging(s.handleProgressionCheck))

	s.Server = http.Server{
		Addr: addr,
		Handler: log.Middleware(logger)(
			log.RequestIDMiddleware(func(*http.Request) string { return generateRequestID() })(mux)),
	}

	return s
}

// InvalidateSnapshots drops the group's cached snapshot. Storage is not
// touched; callers deleting persisted snapshots do that separately.
func (s *Server) InvalidateSnapshots(groupID string) {
	s.snapCache.Invalidate(groupID)
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		if s.snapCache != nil {
			s.snapCache.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withRequestLogging adds rate limiting and request logging to handlers.
func (s *Server) withRequestLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		s.structured.LogHTTPStart(ctx, r)

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			log.FromContext(ctx).WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP, log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.structured.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
