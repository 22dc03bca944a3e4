package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"unitforge/internal/metrics"
	logx "unitforge/pkg/logx"
)

// MetricsServer serves /metrics and /healthz. An empty address disables it.
type MetricsServer struct {
	mu   sync.Mutex
	log  logx.Logger
	addr string

	ln   net.Listener
	srv  *http.Server
	done chan struct{}
}

func NewMetricsServer(log logx.Logger) *MetricsServer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MetricsServer{log: log.With(logx.String("comp", "metrics"))}
}

// Addr returns the bound listener address, or "" when not serving.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure starts, restarts or stops the server so it listens on addr.
// Reconfigure may be called on every config reload.
func (s *MetricsServer) Reconfigure(ctx context.Context, addr string) error {
	addr = strings.TrimSpace(addr)
	s.mu.Lock()
	running := s.srv != nil
	same := running && s.addr == addr
	s.mu.Unlock()

	if same {
		return nil
	}
	if running {
		s.Stop(ctx)
	}
	if addr == "" {
		return nil
	}
	return s.start(addr)
}

func (s *MetricsServer) start(addr string) error {
	if !isLoopbackAddr(addr) {
		s.log.Warn("metrics exposed on non-loopback address", logx.String("addr", addr))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.addr = addr
	s.ln = ln
	s.srv = srv
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server exited", logx.Err(err))
		}
	}()
	s.log.Info("metrics server started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully, closing it outright when ctx ends
// first.
func (s *MetricsServer) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.ln, s.done, s.addr = nil, nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
	}
	<-done
	s.log.Info("metrics server stopped")
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
