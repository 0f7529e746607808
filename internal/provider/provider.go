// Package provider abstracts the external image-generation services behind a
// single Generate call. Two transports are supported: the Google
// generativelanguage API and the OpenRouter chat-completions API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Classified failures. Callers branch on these with errors.Is; the wrapped
// detail carries provider-specific context.
var (
	ErrMisconfigured = errors.New("provider not configured")
	ErrRejected      = errors.New("provider rejected the request")
	ErrNoImage       = errors.New("provider returned no image")
	ErrTransport     = errors.New("provider transport failure")
)

// Request is one pose's generation call. Images are base64 data URLs;
// SecondaryImages (background, persona) are bound before the garment image,
// matching the order the instruction text references them in.
type Request struct {
	Instruction     string
	MainImage       string
	SecondaryImages []string
}

// Result is a successful generation outcome.
type Result struct {
	Image string
}

// Generator is a single provider transport.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// defaultHTTPTimeout bounds one provider round trip. Image generation is
// slow; this is deliberately generous.
const defaultHTTPTimeout = 120 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Registry holds the configured generators and picks one per request.
type Registry struct {
	generators  map[string]Generator
	defaultName string
}

// NewRegistry builds a registry with the given default provider name.
func NewRegistry(defaultName string, gens ...Generator) (*Registry, error) {
	m := make(map[string]Generator, len(gens))
	for _, g := range gens {
		m[g.Name()] = g
	}
	if _, ok := m[defaultName]; !ok {
		return nil, fmt.Errorf("default provider %q is not registered", defaultName)
	}
	return &Registry{generators: m, defaultName: defaultName}, nil
}

// Select returns the generator for the given override name, falling back to
// the default when the override is empty or unknown. Unknown overrides are
// ignored rather than erroring so a stale client header cannot break runs.
func (r *Registry) Select(override string) Generator {
	if g, ok := r.generators[override]; ok {
		return g
	}
	return r.generators[r.defaultName]
}

// DefaultName returns the configured default provider name.
func (r *Registry) DefaultName() string {
	return r.defaultName
}
