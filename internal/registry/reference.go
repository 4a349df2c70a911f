package registry

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// Scheme identifies how the control plane fetches a component artifact.
type Scheme string

const (
	SchemeDocker Scheme = "docker"
	SchemeMaven  Scheme = "maven"
	SchemeFile   Scheme = "file"
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
)

// ErrInvalidLocator wraps every locator parse failure.
var ErrInvalidLocator = errors.New("invalid artifact locator")

// MavenCoordinates are the parts of a maven:// locator.
type MavenCoordinates struct {
	GroupID    string
	ArtifactID string
	Extension  string
	Classifier string
	Version    string
}

// Locator is a validated artifact reference for a component registration.
type Locator struct {
	Scheme Scheme
	// Raw is the locator as written in the pipeline file.
	Raw string
	// Image is set for docker locators.
	Image name.Reference
	// Maven is set for maven locators.
	Maven *MavenCoordinates
	// URL is set for file and http(s) locators.
	URL *url.URL

	normalized string
}

// String returns the locator in the form sent to the control plane.
func (l *Locator) String() string {
	return l.normalized
}

// ParseOptions tune locator parsing.
type ParseOptions struct {
	// DefaultRegistry qualifies docker images that name no registry. When
	// empty, bare images are sent as written.
	DefaultRegistry string
}

var mavenPart = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// ParseLocator validates raw and normalizes it for registration.
//
// Supported forms:
//   - docker:org/app:1.0             docker image
//   - org/app:1.0, ghcr.io/org/app   bare docker image
//   - maven://group:artifact:1.0     maven coordinates (group:artifact[:ext[:classifier]]:version)
//   - file:///opt/apps/app.jar       local artifact on the control plane host
//   - https://repo.example/app.jar   downloadable artifact
func ParseLocator(raw string, opts ParseOptions) (*Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: locator cannot be empty", ErrInvalidLocator)
	}

	switch {
	case strings.HasPrefix(raw, "docker:"):
		return parseDocker(raw, strings.TrimPrefix(strings.TrimPrefix(raw, "docker:"), "//"), opts)
	case strings.HasPrefix(raw, "maven://"):
		return parseMaven(raw)
	case strings.HasPrefix(raw, "file:"):
		return parseURL(raw, SchemeFile)
	case strings.HasPrefix(raw, "http://"):
		return parseURL(raw, SchemeHTTP)
	case strings.HasPrefix(raw, "https://"):
		return parseURL(raw, SchemeHTTPS)
	case strings.Contains(raw, "://"):
		scheme, _, _ := strings.Cut(raw, "://")
		return nil, fmt.Errorf("%w: unsupported scheme %q in %s", ErrInvalidLocator, scheme, raw)
	}
	return parseDocker(raw, raw, opts)
}

func parseDocker(raw, image string, opts ParseOptions) (*Locator, error) {
	if image == "" {
		return nil, fmt.Errorf("%w: docker locator names no image: %s", ErrInvalidLocator, raw)
	}

	var nameOpts []name.Option
	if opts.DefaultRegistry != "" {
		nameOpts = append(nameOpts, name.WithDefaultRegistry(opts.DefaultRegistry))
	}
	ref, err := name.ParseReference(image, nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidLocator, raw, err)
	}

	normalized := "docker:" + image
	if opts.DefaultRegistry != "" {
		normalized = "docker:" + ref.Name()
	}
	return &Locator{Scheme: SchemeDocker, Raw: raw, Image: ref, normalized: normalized}, nil
}

func parseMaven(raw string) (*Locator, error) {
	parts := strings.Split(strings.TrimPrefix(raw, "maven://"), ":")
	if len(parts) < 3 || len(parts) > 5 {
		return nil, fmt.Errorf("%w: maven locator needs group:artifact[:extension[:classifier]]:version, got %s", ErrInvalidLocator, raw)
	}
	for _, p := range parts {
		if !mavenPart.MatchString(p) {
			return nil, fmt.Errorf("%w: invalid maven coordinate %q in %s", ErrInvalidLocator, p, raw)
		}
	}

	coords := &MavenCoordinates{
		GroupID:    parts[0],
		ArtifactID: parts[1],
		Version:    parts[len(parts)-1],
	}
	switch len(parts) {
	case 4:
		coords.Extension = parts[2]
	case 5:
		coords.Extension = parts[2]
		coords.Classifier = parts[3]
	}
	return &Locator{Scheme: SchemeMaven, Raw: raw, Maven: coords, normalized: raw}, nil
}

func parseURL(raw string, scheme Scheme) (*Locator, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidLocator, raw, err)
	}
	switch scheme {
	case SchemeFile:
		if u.Path == "" || u.Path == "/" {
			return nil, fmt.Errorf("%w: file locator names no path: %s", ErrInvalidLocator, raw)
		}
	default:
		if u.Host == "" {
			return nil, fmt.Errorf("%w: %s locator names no host: %s", ErrInvalidLocator, scheme, raw)
		}
		if u.Path == "" || u.Path == "/" {
			return nil, fmt.Errorf("%w: %s locator names no artifact path: %s", ErrInvalidLocator, scheme, raw)
		}
	}
	return &Locator{Scheme: scheme, Raw: raw, URL: u, normalized: u.String()}, nil
}
