package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/MJE43/bart-task-go/internal/metrics"
	"github.com/MJE43/bart-task-go/internal/session"
	"github.com/MJE43/bart-task-go/internal/trials"
)

// Options configures the API server
type Options struct {
	// Sequence is used when a start request leaves seed or order empty.
	Sequence trials.Options
	// Paced makes the server call Ready and Advance after Delays.
	Paced  bool
	Delays session.Delays
	// Token enables the X-Session-Token check when non-empty.
	Token          string
	RequestTimeout time.Duration
	CORSOrigins    []string
	Metrics        *metrics.Metrics
	// Logger receives request and error lines; defaults to stdout.
	Logger *log.Logger
	// SessionLogger receives one line per engine event; nil disables it.
	SessionLogger *log.Logger
	// Clock drives new engines; defaults to the system clock.
	Clock session.Clock
}

// Server serves one participant session at a time
type Server struct {
	opts         Options
	hub          *Hub
	metrics      *metrics.Metrics
	errorHandler *ErrorHandler
	logger       *log.Logger
	upgrader     websocket.Upgrader
	startTime    time.Time

	mu      sync.Mutex
	current *activeSession

	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[API] ", log.LstdFlags)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(false)
	}
	if opts.Clock == nil {
		opts.Clock = session.SystemClock()
	}
	if opts.Sequence.Seed == 0 {
		opts.Sequence.Seed = trials.DefaultOptions().Seed
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		opts:         opts,
		hub:          NewHub(),
		metrics:      opts.Metrics,
		errorHandler: NewErrorHandler(opts.Logger),
		logger:       opts.Logger,
		startTime:    time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.opts.CORSOrigins, origin)
		},
	}

	s.logger.Printf("server_created engine_version=%s paced=%t token=%t seed=%d order=%s",
		EngineVersion, opts.Paced, opts.Token != "", opts.Sequence.Seed, opts.Sequence.Order)
	return s
}

// Routes sets up the HTTP routes with middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.RequestLoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(s.CORSMiddleware)

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.TokenMiddleware)

		// The event stream outlives the request timeout.
		r.Get("/session/ws", s.handleEventStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))

			r.Get("/balloons", s.handleListBalloons)

			r.Post("/session", s.handleStartSession)
			r.Get("/session", s.handleGetSession)
			r.Post("/session/ready", s.handleAction(actionReady))
			r.Post("/session/pump", s.handleAction(actionPump))
			r.Post("/session/collect", s.handleAction(actionCollect))
			r.Post("/session/advance", s.handleAction(actionAdvance))
			r.Get("/session/records", s.handleRecords)
			r.Get("/session/events", s.handleEvents)
			r.Get("/session/scores", s.handleScores)
			r.Get("/session/export.csv", s.handleExport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.HandleError(w, r,
			NewError(ErrTypeNotFound, "Route not found").WithContext("path", r.URL.Path).Build(),
			http.StatusNotFound)
	})

	return r
}

// Start binds addr and serves in a goroutine. It returns once the socket
// is bound.
func (s *Server) Start(addr string) (net.Addr, error) {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("server_error addr=%s err=%v", addr, err)
		}
	}()
	s.logger.Printf("server_listening addr=%s", ln.Addr())
	return ln.Addr(), nil
}

// Shutdown stops the active session's pacer and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil && s.current.pacer != nil {
		s.current.pacer.Stop()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Printf("response_encode_failed status=%d err=%v", status, err)
	}
}

// decodeOptionalJSON decodes the body into v. An empty body is allowed.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
