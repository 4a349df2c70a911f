package controlplane

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

// EmbeddedControlPlane serves an Emulator over HTTP, as used by the
// server command.
type EmbeddedControlPlane struct {
	server   *http.Server
	emulator *Emulator
	listener net.Listener
	address  string
	port     int
	started  bool
	stopped  bool
	mu       sync.RWMutex
	config   Config
}

// Config holds configuration for the embedded control plane
type Config struct {
	Address string
	Port    int
	// TLS, when set, makes the server speak HTTPS.
	TLS             *tls.Config
	ShutdownTimeout time.Duration
	Emulator        Options
}

// NewEmbeddedControlPlane creates a new embedded control plane instance
func NewEmbeddedControlPlane(config Config) *EmbeddedControlPlane {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	return &EmbeddedControlPlane{
		address:  config.Address,
		port:     config.Port,
		config:   config,
		emulator: NewEmulator(config.Emulator),
	}
}

// Start begins serving in the background.
func (e *EmbeddedControlPlane) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("control plane already started")
	}

	address := net.JoinHostPort(e.address, fmt.Sprint(e.port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	if e.config.TLS != nil {
		listener = tls.NewListener(listener, e.config.TLS)
	}
	e.listener = listener
	// pick up the real port when 0 was requested
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
		e.port = tcp.Port
	}

	e.server = &http.Server{
		Handler:           e.emulator,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Embedded control plane listening", zap.String("address", listener.Addr().String()))
		if err := e.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Control plane server error", zap.Error(err))
		}
	}()

	e.started = true
	logger.Info("Embedded control plane started", zap.String("endpoint", e.endpoint()))
	return nil
}

// Stop gracefully shuts down the embedded control plane
func (e *EmbeddedControlPlane) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.stopped {
		return nil
	}

	logger.Info("Stopping embedded control plane")
	e.stopped = true

	ctx, cancel := context.WithTimeout(context.Background(), e.config.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop control plane: %w", err)
	}

	logger.Info("Embedded control plane stopped")
	return nil
}

// Emulator returns the served emulator.
func (e *EmbeddedControlPlane) Emulator() *Emulator {
	return e.emulator
}

// GetEndpoint returns the control plane base URL.
func (e *EmbeddedControlPlane) GetEndpoint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.endpoint()
}

func (e *EmbeddedControlPlane) endpoint() string {
	scheme := "http"
	if e.config.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(e.address, fmt.Sprint(e.port)))
}

// IsStarted returns true if the control plane is started
func (e *EmbeddedControlPlane) IsStarted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started && !e.stopped
}

// GetPort returns the port the control plane is listening on
func (e *EmbeddedControlPlane) GetPort() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.port
}

// GetAddress returns the address the control plane is listening on
func (e *EmbeddedControlPlane) GetAddress() string {
	return e.address
}
