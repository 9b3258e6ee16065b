// Package diag serves an optional operator HTTP endpoint: liveness, a JSON
// view of the relay state and net/http/pprof.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "sigrelay/internal/runtime/supervisor"
	logx "sigrelay/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// Config controls the diagnostics server.
//
// A non-loopback Addr needs a Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
}

var ErrInsecureBind = errors.New("diag: non-loopback addr requires token or allow_insecure")

// Probe reports process health and a JSON-encodable status document.
type Probe struct {
	// Healthy returns nil while the app can do useful work.
	Healthy func() error
	// Status returns the document served at /status.
	Status func() any
}

type Server struct {
	cfg   Config
	probe Probe
	log   logx.Logger

	mu   sync.Mutex
	sup  *rtsup.Supervisor
	addr string
}

func New(cfg Config, probe Probe, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	return &Server{cfg: cfg, probe: probe, log: log.With(logx.String("comp", "diag"))}
}

func (s *Server) Enabled() bool { return s.cfg.Enabled }

// Validate rejects an insecure bind before anything listens.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return errors.New("diag: addr must be host:port")
	}
	if !c.AllowInsecure && strings.TrimSpace(c.Token) == "" && !isLoopbackAddr(addr) {
		return ErrInsecureBind
	}
	return nil
}

// Addr is the bound listen address, empty until the server is up.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start runs the server under a restart loop. Calling Start twice is a no-op.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// diagnostics never take the app down
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (s *Server) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("diag server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("diag server exited unexpectedly")
	}
	return err
}

// Handler returns the routed mux with auth applied.
func (s *Server) Handler() http.Handler {
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", wrap(s.healthz))
	mux.HandleFunc("/status", wrap(s.status))
	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.probe.Healthy != nil {
		if err := s.probe.Healthy(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	var doc any = struct{}{}
	if s.probe.Status != nil {
		doc = s.probe.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		s.log.Warn("encode status failed", logx.Err(err))
	}
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
				got = strings.TrimSpace(strings.TrimPrefix(ah, p))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
