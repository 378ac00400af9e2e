package ipc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server wraps an HTTP server with the control surface's routing.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// Routes returns the API mux wrapped in middleware.
func Routes(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Read side.
	mux.HandleFunc("GET /api/v1/status", h.GetStatus)
	mux.HandleFunc("GET /api/v1/status/stream", h.StreamStatus)
	mux.HandleFunc("GET /api/v1/units/{id}", h.GetUnit)
	mux.HandleFunc("GET /api/v1/history", h.History)

	// Controls.
	mux.HandleFunc("POST /api/v1/units/{id}/trigger", h.TriggerUnit)
	mux.HandleFunc("POST /api/v1/units/{id}/cancel", h.CancelUnit)
	mux.HandleFunc("POST /api/v1/pause", h.Pause)
	mux.HandleFunc("POST /api/v1/resume", h.Resume)
	mux.HandleFunc("POST /api/v1/budget/{category}/adjust", h.AdjustBudget)
	mux.HandleFunc("POST /api/v1/budget/{category}/resume", h.ResumeCategory)
	mux.HandleFunc("POST /api/v1/plan", h.Plan)

	return corsMiddleware(h.logRequests(mux))
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              listenAddr,
			Handler:           Routes(h),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: h.Log,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("control surface listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// corsMiddleware adds CORS headers for local dashboard access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
