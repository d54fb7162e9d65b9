package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

type MonitorServer struct {
	running *sync.Mutex
	srv     *http.Server
	srvMu   sync.RWMutex // protects srv field
	mux     *http.ServeMux
	port    func() int
}

func NewMonitorServer() *MonitorServer {
	return &MonitorServer{
		running: &sync.Mutex{},
		srv:     &http.Server{},
		mux:     http.NewServeMux(),
		port:    func() int { return Config.GetInt("details_port") },
	}
}

// Handler exposes the routes, mainly for httptest.
func (s *MonitorServer) Handler() http.Handler {
	return s.mux
}

// Start listens in the background. The running lock is held until the
// listener exits, so a second Start fails until then.
func (s *MonitorServer) Start() error {
	if !s.running.TryLock() {
		return fmt.Errorf("already running")
	}
	newSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port()),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srvMu.Lock()
	s.srv = newSrv
	s.srvMu.Unlock()
	go func() {
		defer s.running.Unlock()
		if err := newSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			Logger.Warn().Msgf("Problem loading monitor server: %v", err)
		}
		Logger.Debug().Msg("monitor server shutdown")
	}()
	return nil
}

func (s *MonitorServer) AddHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(path, handler)
}

func (s *MonitorServer) AddRawHandler(path string, handler http.Handler) {
	s.mux.Handle(path, handler)
}

// Shutdown stops the listener, if any, and waits for it to exit.
func (s *MonitorServer) Shutdown(ctx context.Context) {
	if s.running.TryLock() { // not running
		s.running.Unlock()
		return
	}
	Logger.Debug().Msg("monitor server running, shutting it down")
	s.srvMu.RLock()
	currentSrv := s.srv
	s.srvMu.RUnlock()
	if currentSrv != nil {
		if err := currentSrv.Shutdown(ctx); err != nil {
			Logger.Error().Msgf("Error shutting down monitor server: %v", err)
		}
	}
	Logger.Debug().Msg("waiting for shutdown")
	s.running.Lock() // the listener goroutine unlocks on exit
	s.running.Unlock()
}

func (s *MonitorServer) Restart() {
	Logger.Debug().Msg("restarting monitor server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Shutdown(ctx)
	Logger.Debug().Msg("http not running - good for startup")
	if err := s.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
}
