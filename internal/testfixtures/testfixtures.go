// Package testfixtures holds helpers shared by package tests.
package testfixtures

import (
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/withobsrvr/streamctl/internal/controlplane"
	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

// UseTestLogger routes log output to t for the duration of the test.
func UseTestLogger(t testing.TB) {
	t.Cleanup(logger.Replace(zaptest.NewLogger(t, zaptest.Level(zapcore.DebugLevel))))
}

// StartControlPlane serves an emulator on an httptest server that is closed
// when the test ends.
func StartControlPlane(t testing.TB, opts controlplane.Options) (*controlplane.Emulator, *httptest.Server) {
	t.Helper()
	emu := controlplane.NewEmulator(opts)
	srv := httptest.NewServer(emu)
	t.Cleanup(srv.Close)
	return emu, srv
}
