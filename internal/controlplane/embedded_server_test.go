package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

type testClient struct {
	t    *testing.T
	base string
}

func (c testClient) do(method, path string, form url.Values, body string) (int, string) {
	c.t.Helper()
	var reader io.Reader
	contentType := ""
	switch {
	case form != nil:
		reader = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case body != "":
		reader = strings.NewReader(body)
		contentType = "application/json"
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, string(data)
}

func register(uri string, force bool) url.Values {
	v := url.Values{"uri": {uri}}
	if force {
		v.Set("force", "true")
	}
	return v
}

func useTestLogger(t *testing.T) {
	t.Cleanup(logger.Replace(zaptest.NewLogger(t)))
}

func newEmulatorClient(t *testing.T, opts Options) (*Emulator, testClient) {
	useTestLogger(t)
	emu := NewEmulator(opts)
	srv := httptest.NewServer(emu)
	t.Cleanup(srv.Close)
	return emu, testClient{t: t, base: srv.URL}
}

func TestEmulatorComponentLifecycle(t *testing.T) {
	emu, c := newEmulatorClient(t, Options{})

	status, body := c.do(http.MethodGet, "/apps/source/src", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "NoSuchAppRegistrationException")

	status, _ = c.do(http.MethodPost, "/apps/source/src", register("docker:acme/src:1.0", false), "")
	assert.Equal(t, http.StatusCreated, status)

	status, body = c.do(http.MethodGet, "/apps/source/src", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"name":"src","type":"source","uri":"docker:acme/src:1.0"}`, body)

	status, body = c.do(http.MethodPost, "/apps/source/src", register("docker:acme/src:2.0", false), "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, "AppAlreadyRegisteredException")

	status, _ = c.do(http.MethodPost, "/apps/source/src", register("docker:acme/src:2.0", true), "")
	assert.Equal(t, http.StatusCreated, status)
	uri, ok := emu.Component("source", "src")
	require.True(t, ok)
	assert.Equal(t, "docker:acme/src:2.0", uri)

	status, _ = c.do(http.MethodDelete, "/apps/source/src", nil, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodDelete, "/apps/source/src", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEmulatorRejectsBadRegistrations(t *testing.T) {
	_, c := newEmulatorClient(t, Options{})

	status, body := c.do(http.MethodPost, "/apps/source/src", url.Values{}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "MissingServletRequestParameterException")

	status, _ = c.do(http.MethodPost, "/apps/source/src", register("ftp://nowhere/app.jar", false), "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = c.do(http.MethodPost, "/apps/widget/src", register("docker:acme/src:1.0", false), "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEmulatorDeleteLag(t *testing.T) {
	_, c := newEmulatorClient(t, Options{DeleteLag: 2})

	c.do(http.MethodPost, "/apps/sink/sink", register("docker:acme/sink:1.0", false), "")
	c.do(http.MethodDelete, "/apps/sink/sink", nil, "")

	// still visible, and still blocks a different registration
	status, _ := c.do(http.MethodPost, "/apps/sink/sink", register("docker:acme/sink:2.0", false), "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = c.do(http.MethodGet, "/apps/sink/sink", nil, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodGet, "/apps/sink/sink", nil, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodGet, "/apps/sink/sink", nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = c.do(http.MethodPost, "/apps/sink/sink", register("docker:acme/sink:2.0", false), "")
	assert.Equal(t, http.StatusCreated, status)
}

func registerChain(c testClient) {
	c.do(http.MethodPost, "/apps/source/src", register("docker:acme/src:1.0", false), "")
	c.do(http.MethodPost, "/apps/processor/proc", register("docker:acme/proc:1.0", false), "")
	c.do(http.MethodPost, "/apps/sink/sink", register("docker:acme/sink:1.0", false), "")
}

func TestEmulatorDefinitionsAndDeployments(t *testing.T) {
	emu, c := newEmulatorClient(t, Options{ReadyLag: 2})
	registerChain(c)

	def := url.Values{"name": {"p1"}, "definition": {"src | proc | sink"}, "deploy": {"false"}}
	status, _ := c.do(http.MethodPost, "/streams/definitions", def, "")
	require.Equal(t, http.StatusCreated, status)

	status, body := c.do(http.MethodPost, "/streams/definitions", def, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, "DuplicateStreamDefinitionException")

	status, body = c.do(http.MethodGet, "/streams/definitions/p1", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"name":"p1","dslText":"src | proc | sink","status":"undeployed"}`, body)

	status, _ = c.do(http.MethodPost, "/streams/deployments/p1", nil, `{"sink":{"bucket":"test"}}`)
	require.Equal(t, http.StatusCreated, status)

	status, body = c.do(http.MethodPost, "/streams/deployments/p1", nil, `{}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, "StreamAlreadyDeployedException")

	var dep struct {
		State string `json:"state"`
	}
	_, body = c.do(http.MethodGet, "/streams/deployments/p1", nil, "")
	require.NoError(t, json.Unmarshal([]byte(body), &dep))
	assert.Equal(t, "deploying", dep.State)
	_, body = c.do(http.MethodGet, "/streams/deployments/p1", nil, "")
	require.NoError(t, json.Unmarshal([]byte(body), &dep))
	assert.Equal(t, "deployed", dep.State)

	props, ok := emu.DeployedProperties("p1")
	require.True(t, ok)
	assert.JSONEq(t, `{"sink":{"bucket":"test"}}`, string(props))

	status, _ = c.do(http.MethodDelete, "/streams/deployments/p1", nil, "")
	assert.Equal(t, http.StatusOK, status)
	state, _ := emu.DeploymentState("p1")
	assert.Equal(t, "undeployed", state)

	status, _ = c.do(http.MethodDelete, "/streams/definitions/p1", nil, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodGet, "/streams/definitions/p1", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEmulatorDefinitionNeedsRegisteredApps(t *testing.T) {
	_, c := newEmulatorClient(t, Options{})

	def := url.Values{"name": {"p1"}, "definition": {"src | sink"}}
	status, body := c.do(http.MethodPost, "/streams/definitions", def, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "NoSuchAppRegistrationException")
}

func TestEmulatorFailedDeployment(t *testing.T) {
	emu, c := newEmulatorClient(t, Options{})
	registerChain(c)
	c.do(http.MethodPost, "/streams/definitions", url.Values{"name": {"p1"}, "definition": {"src | proc | sink"}}, "")
	emu.FailDeployment("p1")

	c.do(http.MethodPost, "/streams/deployments/p1", nil, `{}`)
	state, _ := emu.DeploymentState("p1")
	assert.Equal(t, "failed", state)
}

func TestEmulatorFaults(t *testing.T) {
	emu, c := newEmulatorClient(t, Options{})
	emu.InjectFault(Fault{Status: http.StatusServiceUnavailable, Times: 2})
	emu.InjectFault(Fault{Method: http.MethodGet, Path: "/about", LogRef: "InternalError", Message: "oops", Times: 1})

	status, _ := c.do(http.MethodGet, "/about", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	status, _ = c.do(http.MethodGet, "/about", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, body := c.do(http.MethodGet, "/about", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "InternalError")

	status, body = c.do(http.MethodGet, "/about", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, Version)

	assert.Len(t, emu.Requests(), 4)
	emu.ResetRequests()
	assert.Empty(t, emu.Requests())
}

func TestEmulatorDelayFault(t *testing.T) {
	emu, c := newEmulatorClient(t, Options{})
	emu.InjectFault(Fault{Method: http.MethodGet, Path: "/about", Delay: 50 * time.Millisecond, Times: 1})

	start := time.Now()
	status, body := c.do(http.MethodGet, "/about", nil, "")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, Version)

	status, _ = c.do(http.MethodGet, "/about", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, emu.Requests(), 2)
}

func TestEmulatorErrorsInOKBody(t *testing.T) {
	_, c := newEmulatorClient(t, Options{ErrorsInOKBody: true})

	status, body := c.do(http.MethodGet, "/apps/source/missing", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "NoSuchAppRegistrationException")
}

func TestEmbeddedControlPlaneLifecycle(t *testing.T) {
	useTestLogger(t)
	cp := NewEmbeddedControlPlane(Config{Address: "127.0.0.1", Port: 0})
	assert.False(t, cp.IsStarted())

	require.NoError(t, cp.Start(context.Background()))
	t.Cleanup(func() { _ = cp.Stop() })
	assert.True(t, cp.IsStarted())
	assert.NotZero(t, cp.GetPort())
	assert.Equal(t, "127.0.0.1", cp.GetAddress())

	assert.Error(t, cp.Start(context.Background()))

	resp, err := http.Get(cp.GetEndpoint() + "/about")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, cp.Stop())
	assert.False(t, cp.IsStarted())
	require.NoError(t, cp.Stop())
}
