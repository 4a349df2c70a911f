package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ComponentKind is the registration type of a pipeline component.
type ComponentKind string

const (
	KindSource    ComponentKind = "source"
	KindProcessor ComponentKind = "processor"
	KindSink      ComponentKind = "sink"
)

// Valid reports whether k is a known kind.
func (k ComponentKind) Valid() bool {
	switch k {
	case KindSource, KindProcessor, KindSink:
		return true
	}
	return false
}

// Component is a registered pipeline component.
type Component struct {
	Name string        `json:"name"`
	Type ComponentKind `json:"type"`
	URI  string        `json:"uri"`
}

// Definition is a named pipeline definition.
type Definition struct {
	Name    string `json:"name"`
	DSLText string `json:"dslText"`
	Status  string `json:"status,omitempty"`
}

// DeploymentState is the control plane's view of a deployment.
type DeploymentState string

const (
	DeploymentDeploying  DeploymentState = "deploying"
	DeploymentDeployed   DeploymentState = "deployed"
	DeploymentFailed     DeploymentState = "failed"
	DeploymentUndeployed DeploymentState = "undeployed"
)

// Deployment describes a submitted deployment.
type Deployment struct {
	StreamName string          `json:"streamName"`
	State      DeploymentState `json:"state"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// DeployedProperties returns the submitted properties as scope to key to
// value. It reports false when the control plane did not return them in that
// form.
func (d *Deployment) DeployedProperties() (map[string]map[string]string, bool) {
	if len(d.Properties) == 0 {
		return nil, false
	}
	var props map[string]map[string]string
	if err := json.Unmarshal(d.Properties, &props); err != nil || props == nil {
		return nil, false
	}
	return props, true
}

// About is the control plane's self description.
type About struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ControlPlane exposes the typed control-plane operations on top of the
// resilient Client.
type ControlPlane struct {
	client *Client
}

// NewControlPlane wraps client.
func NewControlPlane(client *Client) *ControlPlane {
	return &ControlPlane{client: client}
}

func componentPath(kind ComponentKind, name string) string {
	return "/apps/" + url.PathEscape(string(kind)) + "/" + url.PathEscape(name)
}

// About probes the control plane.
func (cp *ControlPlane) About(ctx context.Context) (*About, error) {
	resp, err := cp.client.Execute(ctx, &Request{Method: http.MethodGet, Path: "/about"})
	if err != nil {
		return nil, err
	}
	var about About
	if err := resp.Decode(&about); err != nil {
		return nil, err
	}
	return &about, nil
}

// Ping reports whether the control plane answers.
func (cp *ControlPlane) Ping(ctx context.Context) error {
	_, err := cp.About(ctx)
	return err
}

// LookupComponent fetches a registered component. A missing component is an
// error matching ErrNotFound.
func (cp *ControlPlane) LookupComponent(ctx context.Context, kind ComponentKind, name string) (*Component, error) {
	resp, err := cp.client.Execute(ctx, &Request{Method: http.MethodGet, Path: componentPath(kind, name)})
	if err != nil {
		return nil, err
	}
	var c Component
	if err := resp.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// RegisterComponent registers name under kind with the artifact uri.
func (cp *ControlPlane) RegisterComponent(ctx context.Context, kind ComponentKind, name, uri string, force bool) error {
	form := url.Values{}
	form.Set("uri", uri)
	form.Set("force", strconv.FormatBool(force))
	_, err := cp.client.Execute(ctx, &Request{Method: http.MethodPost, Path: componentPath(kind, name), Form: form})
	return err
}

// UnregisterComponent removes a component registration.
func (cp *ControlPlane) UnregisterComponent(ctx context.Context, kind ComponentKind, name string) error {
	_, err := cp.client.Execute(ctx, &Request{Method: http.MethodDelete, Path: componentPath(kind, name)})
	return err
}

// LookupDefinition fetches a pipeline definition.
func (cp *ControlPlane) LookupDefinition(ctx context.Context, name string) (*Definition, error) {
	resp, err := cp.client.Execute(ctx, &Request{Method: http.MethodGet, Path: "/streams/definitions/" + url.PathEscape(name)})
	if err != nil {
		return nil, err
	}
	var d Definition
	if err := resp.Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDefinition submits a definition without deploying it.
func (cp *ControlPlane) CreateDefinition(ctx context.Context, name, dsl string) error {
	form := url.Values{}
	form.Set("name", name)
	form.Set("definition", dsl)
	form.Set("deploy", "false")
	_, err := cp.client.Execute(ctx, &Request{Method: http.MethodPost, Path: "/streams/definitions", Form: form})
	return err
}

// DeleteDefinition removes a pipeline definition.
func (cp *ControlPlane) DeleteDefinition(ctx context.Context, name string) error {
	_, err := cp.client.Execute(ctx, &Request{Method: http.MethodDelete, Path: "/streams/definitions/" + url.PathEscape(name)})
	return err
}

// Deploy submits the deployment properties for a defined pipeline. The
// payload is sent as the JSON request body.
func (cp *ControlPlane) Deploy(ctx context.Context, name string, payload any) error {
	if payload == nil {
		return fmt.Errorf("deploy %s: payload is required", name)
	}
	_, err := cp.client.Execute(ctx, &Request{Method: http.MethodPost, Path: "/streams/deployments/" + url.PathEscape(name), JSON: payload})
	return err
}

// Undeploy stops a deployment.
func (cp *ControlPlane) Undeploy(ctx context.Context, name string) error {
	_, err := cp.client.Execute(ctx, &Request{Method: http.MethodDelete, Path: "/streams/deployments/" + url.PathEscape(name)})
	return err
}

// InspectDeployment reports the state of a deployment.
func (cp *ControlPlane) InspectDeployment(ctx context.Context, name string) (*Deployment, error) {
	resp, err := cp.client.Execute(ctx, &Request{Method: http.MethodGet, Path: "/streams/deployments/" + url.PathEscape(name)})
	if err != nil {
		return nil, err
	}
	var d Deployment
	if err := resp.Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}
