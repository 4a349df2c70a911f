// Package controlplane provides an in-memory control plane speaking the
// component, definition and deployment REST API consumed by streamctl.
//
// The emulator reproduces the behaviours that make reconciliation hard
// against a real control plane: deleted resources stay visible for a number
// of reads, deployments take a number of inspections to become ready, and
// faults (503 bursts, structured errors inside 200 responses) can be
// injected per route.
package controlplane

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/registry"
	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

// Version is reported by GET /about.
const Version = "emulator-1"

// Options tune the emulator's consistency model.
type Options struct {
	// DeleteLag is the number of reads a deleted component or definition
	// stays visible for.
	DeleteLag int
	// ReadyLag is the number of deployment inspections before a deploying
	// stream reports deployed.
	ReadyLag int
	// ErrorsInOKBody reports every structured error with status 200.
	ErrorsInOKBody bool
}

// Fault is an injected failure. Empty Method or Path match every request.
type Fault struct {
	Method string
	Path   string
	// Status is the response status; 0 means 200.
	Status int
	// LogRef and Message, when set, are written as a structured error list.
	LogRef  string
	Message string
	// Delay stalls the request before it is answered. A delay-only fault
	// lets the request through afterwards.
	Delay time.Duration
	// Times is the number of matching requests affected.
	Times int
}

func (f *Fault) matches(r *http.Request) bool {
	if f.Times <= 0 {
		return false
	}
	if f.Method != "" && f.Method != r.Method {
		return false
	}
	return f.Path == "" || f.Path == r.URL.Path
}

// RecordedRequest is one entry of the request log.
type RecordedRequest struct {
	Method string
	Path   string
	At     time.Time
}

func (r RecordedRequest) String() string {
	return r.Method + " " + r.Path
}

type app struct {
	kind    string
	name    string
	uri     string
	deleted bool
	// visible counts the reads left before a deleted app disappears
	visible int
}

type definition struct {
	name    string
	dsl     string
	deleted bool
	visible int

	state      string
	readyIn    int
	properties json.RawMessage
}

// Emulator is an http.Handler implementing the control-plane API.
type Emulator struct {
	mu          sync.Mutex
	opts        Options
	apps        map[string]*app
	definitions map[string]*definition
	faults      []*Fault
	failing     map[string]bool
	requests    []RecordedRequest
	router      *mux.Router
	log         *zap.Logger
}

// NewEmulator creates an empty control plane.
func NewEmulator(opts Options) *Emulator {
	e := &Emulator{
		opts:        opts,
		apps:        make(map[string]*app),
		definitions: make(map[string]*definition),
		failing:     make(map[string]bool),
		log:         logger.Named("emulator"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/about", e.about).Methods(http.MethodGet)
	r.HandleFunc("/apps/{kind}/{name}", e.lookupApp).Methods(http.MethodGet)
	r.HandleFunc("/apps/{kind}/{name}", e.registerApp).Methods(http.MethodPost)
	r.HandleFunc("/apps/{kind}/{name}", e.unregisterApp).Methods(http.MethodDelete)
	r.HandleFunc("/streams/definitions", e.createDefinition).Methods(http.MethodPost)
	r.HandleFunc("/streams/definitions/{name}", e.lookupDefinition).Methods(http.MethodGet)
	r.HandleFunc("/streams/definitions/{name}", e.deleteDefinition).Methods(http.MethodDelete)
	r.HandleFunc("/streams/deployments/{name}", e.deploy).Methods(http.MethodPost)
	r.HandleFunc("/streams/deployments/{name}", e.inspectDeployment).Methods(http.MethodGet)
	r.HandleFunc("/streams/deployments/{name}", e.undeploy).Methods(http.MethodDelete)
	r.Use(e.record, e.inject)
	e.router = r
	return e
}

func (e *Emulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.router.ServeHTTP(w, r)
}

// InjectFault queues f. Faults are consumed in the order they were added.
func (e *Emulator) InjectFault(f Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = append(e.faults, &f)
}

// FailDeployment makes deployments of name end in the failed state.
func (e *Emulator) FailDeployment(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing[name] = true
}

// Requests returns the request log.
func (e *Emulator) Requests() []RecordedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RecordedRequest(nil), e.requests...)
}

// ResetRequests clears the request log.
func (e *Emulator) ResetRequests() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = nil
}

// Component returns the artifact registered for kind/name, ignoring lag.
func (e *Emulator) Component(kind, name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.apps[appKey(kind, name)]
	if !ok || a.deleted {
		return "", false
	}
	return a.uri, true
}

// DeploymentState returns the stored deployment state of name.
func (e *Emulator) DeploymentState(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.definitions[name]
	if !ok || d.deleted {
		return "", false
	}
	return d.state, true
}

// DeployedProperties returns the payload of the last deployment of name.
func (e *Emulator) DeployedProperties(name string) (json.RawMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.definitions[name]
	if !ok || d.deleted || d.properties == nil {
		return nil, false
	}
	return append(json.RawMessage(nil), d.properties...), true
}

func (e *Emulator) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.requests = append(e.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, At: time.Now()})
		e.mu.Unlock()
		e.log.Debug("Request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (e *Emulator) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		var fault *Fault
		for _, f := range e.faults {
			if f.matches(r) {
				f.Times--
				fault = f
				break
			}
		}
		e.mu.Unlock()

		if fault == nil {
			next.ServeHTTP(w, r)
			return
		}
		if fault.Delay > 0 {
			select {
			case <-time.After(fault.Delay):
			case <-r.Context().Done():
				return
			}
			if fault.Status == 0 && fault.LogRef == "" && fault.Message == "" {
				next.ServeHTTP(w, r)
				return
			}
		}
		status := fault.Status
		if status == 0 {
			status = http.StatusOK
		}
		if fault.LogRef == "" && fault.Message == "" {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, errorBody(fault.LogRef, fault.Message))
	})
}

func appKey(kind, name string) string {
	return kind + "/" + name
}

func validKind(kind string) bool {
	switch kind {
	case "source", "processor", "sink":
		return true
	}
	return false
}

// visibleApp returns the app if a read can still observe it, consuming one
// read of a deleted app's lag. Callers hold e.mu.
func (e *Emulator) visibleApp(kind, name string) *app {
	a, ok := e.apps[appKey(kind, name)]
	if !ok {
		return nil
	}
	if a.deleted {
		if a.visible <= 0 {
			delete(e.apps, appKey(kind, name))
			return nil
		}
		a.visible--
	}
	return a
}

func (e *Emulator) visibleDefinition(name string) *definition {
	d, ok := e.definitions[name]
	if !ok {
		return nil
	}
	if d.deleted {
		if d.visible <= 0 {
			delete(e.definitions, name)
			return nil
		}
		d.visible--
	}
	return d
}

func (e *Emulator) about(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": "streamctl-emulator", "version": Version})
}

func (e *Emulator) lookupApp(w http.ResponseWriter, r *http.Request) {
	kind, name := mux.Vars(r)["kind"], mux.Vars(r)["name"]
	if !validKind(kind) {
		e.fail(w, http.StatusBadRequest, "IllegalArgumentException", fmt.Sprintf("unknown application type %q", kind))
		return
	}

	e.mu.Lock()
	a := e.visibleApp(kind, name)
	var body map[string]string
	if a != nil {
		body = map[string]string{"name": a.name, "type": a.kind, "uri": a.uri}
	}
	e.mu.Unlock()

	if body == nil {
		e.fail(w, http.StatusNotFound, "NoSuchAppRegistrationException", fmt.Sprintf("application %s of type %s not registered", name, kind))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (e *Emulator) registerApp(w http.ResponseWriter, r *http.Request) {
	kind, name := mux.Vars(r)["kind"], mux.Vars(r)["name"]
	if !validKind(kind) {
		e.fail(w, http.StatusBadRequest, "IllegalArgumentException", fmt.Sprintf("unknown application type %q", kind))
		return
	}
	if err := r.ParseForm(); err != nil {
		e.fail(w, http.StatusBadRequest, "IllegalArgumentException", err.Error())
		return
	}
	uri := r.PostForm.Get("uri")
	if uri == "" {
		e.fail(w, http.StatusBadRequest, "MissingServletRequestParameterException", "required parameter 'uri' is not present")
		return
	}
	if _, err := registry.ParseLocator(uri, registry.ParseOptions{}); err != nil {
		e.fail(w, http.StatusBadRequest, "IllegalArgumentException", err.Error())
		return
	}
	force := r.PostForm.Get("force") == "true"

	e.mu.Lock()
	existing, ok := e.apps[appKey(kind, name)]
	// a deleted app that is still visible blocks registration
	if ok && (!existing.deleted || existing.visible > 0) && existing.uri != uri && !force {
		e.mu.Unlock()
		e.fail(w, http.StatusConflict, "AppAlreadyRegisteredException",
			fmt.Sprintf("the '%s:%s' application is already registered as %s", kind, name, existing.uri))
		return
	}
	e.apps[appKey(kind, name)] = &app{kind: kind, name: name, uri: uri}
	e.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func (e *Emulator) unregisterApp(w http.ResponseWriter, r *http.Request) {
	kind, name := mux.Vars(r)["kind"], mux.Vars(r)["name"]

	e.mu.Lock()
	a, ok := e.apps[appKey(kind, name)]
	if !ok || a.deleted {
		e.mu.Unlock()
		e.fail(w, http.StatusNotFound, "NoSuchAppRegistrationException", fmt.Sprintf("application %s of type %s not registered", name, kind))
		return
	}
	a.deleted = true
	a.visible = e.opts.DeleteLag
	e.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (e *Emulator) lookupDefinition(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	e.mu.Lock()
	d := e.visibleDefinition(name)
	var body map[string]string
	if d != nil {
		body = map[string]string{"name": d.name, "dslText": d.dsl, "status": d.state}
	}
	e.mu.Unlock()

	if body == nil {
		e.fail(w, http.StatusNotFound, "NoSuchStreamDefinitionException", fmt.Sprintf("could not find stream definition named %s", name))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (e *Emulator) createDefinition(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		e.fail(w, http.StatusBadRequest, "IllegalArgumentException", err.Error())
		return
	}
	name, dsl := r.PostForm.Get("name"), strings.TrimSpace(r.PostForm.Get("definition"))
	if name == "" || dsl == "" {
		e.fail(w, http.StatusBadRequest, "MissingServletRequestParameterException", "parameters 'name' and 'definition' are required")
		return
	}

	apps := strings.Split(dsl, "|")
	e.mu.Lock()
	defer e.mu.Unlock()

	if d, ok := e.definitions[name]; ok && (!d.deleted || d.visible > 0) {
		e.fail(w, http.StatusConflict, "DuplicateStreamDefinitionException",
			fmt.Sprintf("cannot create stream %s because another one has already been created with the same name", name))
		return
	}
	for i, a := range apps {
		appName := strings.TrimSpace(a)
		kind := "processor"
		switch i {
		case 0:
			kind = "source"
		case len(apps) - 1:
			kind = "sink"
		}
		if existing, ok := e.apps[appKey(kind, appName)]; !ok || existing.deleted {
			e.fail(w, http.StatusBadRequest, "NoSuchAppRegistrationException",
				fmt.Sprintf("application %s of type %s not registered", appName, kind))
			return
		}
	}

	e.definitions[name] = &definition{name: name, dsl: dsl, state: "undeployed"}
	w.WriteHeader(http.StatusCreated)
}

func (e *Emulator) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	e.mu.Lock()
	d, ok := e.definitions[name]
	if !ok || d.deleted {
		e.mu.Unlock()
		e.fail(w, http.StatusNotFound, "NoSuchStreamDefinitionException", fmt.Sprintf("could not find stream definition named %s", name))
		return
	}
	d.deleted = true
	d.visible = e.opts.DeleteLag
	d.state = "undeployed"
	e.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (e *Emulator) deploy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var props map[string]json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&props); err != nil {
			e.fail(w, http.StatusBadRequest, "HttpMessageNotReadableException", "deployment properties must be a JSON object: "+err.Error())
			return
		}
	}
	raw, _ := json.Marshal(props)

	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.definitions[name]
	if !ok || d.deleted {
		e.fail(w, http.StatusNotFound, "NoSuchStreamDefinitionException", fmt.Sprintf("could not find stream definition named %s", name))
		return
	}
	if d.state == "deploying" || d.state == "deployed" {
		e.fail(w, http.StatusConflict, "StreamAlreadyDeployedException", fmt.Sprintf("stream %s is already deployed", name))
		return
	}

	d.properties = raw
	d.readyIn = e.opts.ReadyLag
	d.state = "deploying"
	if d.readyIn <= 0 {
		d.state = e.settledState(name)
	}
	w.WriteHeader(http.StatusCreated)
}

func (e *Emulator) inspectDeployment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	e.mu.Lock()
	d := e.visibleDefinition(name)
	if d == nil {
		e.mu.Unlock()
		e.fail(w, http.StatusNotFound, "NoSuchStreamDefinitionException", fmt.Sprintf("could not find stream definition named %s", name))
		return
	}
	if d.state == "deploying" {
		d.readyIn--
		if d.readyIn <= 0 {
			d.state = e.settledState(name)
		}
	}
	body := map[string]any{"streamName": d.name, "state": d.state}
	if d.properties != nil {
		body["properties"] = d.properties
	}
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

// settledState is the state a finished deployment of name reports. Callers
// hold e.mu.
func (e *Emulator) settledState(name string) string {
	if e.failing[name] {
		return "failed"
	}
	return "deployed"
}

func (e *Emulator) undeploy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	e.mu.Lock()
	d, ok := e.definitions[name]
	if !ok || d.deleted {
		e.mu.Unlock()
		e.fail(w, http.StatusNotFound, "NoSuchStreamDefinitionException", fmt.Sprintf("could not find stream definition named %s", name))
		return
	}
	d.state = "undeployed"
	d.readyIn = 0
	e.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

// fail writes a structured error. It does not touch e.mu.
func (e *Emulator) fail(w http.ResponseWriter, status int, logref, message string) {
	if e.opts.ErrorsInOKBody {
		status = http.StatusOK
	}
	writeJSON(w, status, errorBody(logref, message))
}

func errorBody(logref, message string) map[string]any {
	return map[string]any{
		"_embedded": map[string]any{
			"errors": []map[string]string{{"logref": logref, "message": message}},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode emulator response", zap.Error(err))
	}
}
