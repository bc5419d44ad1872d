package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/btgate/internal/discovery"
	"github.com/muurk/btgate/internal/gateway"
	"github.com/muurk/btgate/internal/logging"
	"github.com/muurk/btgate/internal/notify"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// APIPrefix is the path prefix of every API route.
const APIPrefix = "/api/v1"

// Controller is the gateway surface the API exposes.
type Controller interface {
	Start() error
	Stop() error
	Status() gateway.Status
	Devices() []discovery.Registration
	Endpoints() map[discovery.Identity][]discovery.Endpoint
	Subscribe() *notify.Subscription
}

// Config holds the server configuration
type Config struct {
	Host     string
	Port     int
	CertPath string // TLS is enabled when both paths are set
	KeyPath  string
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// TLSEnabled reports whether a certificate is configured.
func (c *Config) TLSEnabled() bool {
	return c.CertPath != "" && c.KeyPath != ""
}

// Server serves the gateway control API and event feed.
type Server struct {
	config    *Config
	ctrl      Controller
	tlsConfig *tls.Config
	httpSrv   *http.Server
	upgrader  websocket.Upgrader

	wg          sync.WaitGroup
	mu          sync.Mutex
	listener    net.Listener
	activeConns map[string]*websocket.Conn
}

// New creates a new Server instance
func New(config *Config, ctrl Controller) (*Server, error) {
	var tlsConfig *tls.Config
	if config.TLSEnabled() {
		var err error
		tlsConfig, err = NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	s := &Server{
		config:      config,
		ctrl:        ctrl,
		tlsConfig:   tlsConfig,
		activeConns: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+APIPrefix+"/status", s.handleStatus)
	mux.HandleFunc("GET "+APIPrefix+"/devices", s.handleDevices)
	mux.HandleFunc("GET "+APIPrefix+"/endpoints", s.handleEndpoints)
	mux.HandleFunc("POST "+APIPrefix+"/start", s.handleStart)
	mux.HandleFunc("POST "+APIPrefix+"/stop", s.handleStop)
	mux.HandleFunc("GET "+APIPrefix+"/feed", s.handleFeed)
	return logRequests(mux)
}

// Listen opens the listener, wrapping it in TLS when configured.
func (s *Server) Listen() (net.Listener, error) {
	addr := s.config.Addr()
	var (
		l   net.Listener
		err error
	)
	if s.tlsConfig != nil {
		l, err = tls.Listen("tcp", addr, s.tlsConfig)
	} else {
		l, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return l, nil
}

// Serve accepts API connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	logging.Info("API listening",
		zap.String("addr", l.Addr().String()),
		zap.Bool("tls", s.tlsConfig != nil),
	)
	if err := s.httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start serves the API and blocks until a shutdown signal or an error.
func (s *Server) Start() error {
	if s.tlsConfig != nil {
		logging.Info("Starting btgate API",
			zap.String("addr", s.config.Addr()),
			zap.String("cert", s.config.CertPath),
			zap.String("key", s.config.KeyPath),
		)
		logging.Info("TLS Configuration", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
	} else {
		logging.Info("Starting btgate API", zap.String("addr", s.config.Addr()))
	}

	l, err := s.Listen()
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve(l)
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

// Shutdown stops accepting requests, closes feed connections and waits for
// their handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	var err error
	err = multierr.Append(err, s.httpSrv.Shutdown(ctx))

	// Hijacked feed connections are not tracked by http.Server.
	s.mu.Lock()
	for addr, conn := range s.activeConns {
		logging.Debug("Closing feed connection", zap.String("remote_addr", addr))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		err = multierr.Append(err, conn.Close())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		err = multierr.Append(err, ctx.Err())
	}

	logging.Sync()
	return err
}

// GetActiveConnections returns the number of open feed connections
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

func (s *Server) track(addr string, conn *websocket.Conn) {
	s.mu.Lock()
	s.activeConns[addr] = conn
	s.mu.Unlock()
}

func (s *Server) untrack(addr string) {
	s.mu.Lock()
	delete(s.activeConns, addr)
	s.mu.Unlock()
}
