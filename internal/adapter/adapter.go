// Package adapter defines the backend capability contract the dispatcher
// depends on, and the adapters for each supported provider. The dispatcher
// treats every backend identically through this contract and never inspects
// adapter internals.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// Severity tags a readiness issue as blocking or merely informational.
type Severity string

const (
	// SeverityFatal marks missing required configuration; startup must abort.
	SeverityFatal Severity = "fatal"

	// SeverityAdvisory marks missing optional configuration; startup proceeds.
	SeverityAdvisory Severity = "advisory"
)

// Issue is one finding from an environment or prompt-shape check.
type Issue struct {
	Severity Severity
	Message  string
}

// Fatal builds a blocking issue.
func Fatal(format string, args ...any) Issue {
	return Issue{Severity: SeverityFatal, Message: fmt.Sprintf(format, args...)}
}

// Advisory builds a non-blocking issue.
func Advisory(format string, args ...any) Issue {
	return Issue{Severity: SeverityAdvisory, Message: fmt.Sprintf(format, args...)}
}

// HasFatal reports whether any issue in the slice is blocking.
func HasFatal(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

// Adapter is the three-operation capability contract every backend
// implements.
type Adapter interface {
	// Name returns the canonical backend identifier used in record "api"
	// fields and configuration keys.
	Name() string

	// CheckEnvironment performs the startup-only readiness check. It never
	// returns an error; findings are tagged fatal or advisory.
	CheckEnvironment() []Issue

	// CheckPromptShape validates a record structurally for this backend so
	// malformed records fail fast without a network round trip.
	CheckPromptShape(rec *domain.Record) []Issue

	// Query performs one request attempt. On success the record is
	// decorated with its response and nil is returned; on failure the
	// returned error is a *BackendError describing the failure.
	Query(ctx context.Context, rec *domain.Record, index int) error
}

// Config holds per-backend configuration and credentials, built once at
// startup and injected into adapter constructors. Environment reads are
// confined to the FromEnv boundary in env.go.
type Config struct {
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"-"` // Sensitive, not serialized
	Timeout  time.Duration     `json:"timeout"`
	Headers  map[string]string `json:"headers"`
}

// httpClient returns the client used for this backend's requests. The
// dispatcher imposes no timeout of its own; any timeout is adapter-internal.
func (c Config) httpClient() *http.Client {
	return &http.Client{Timeout: c.Timeout}
}

// Supported backend identifiers.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
	BackendOllama    = "ollama"
	BackendTGI       = "tgi"
	BackendQuart     = "quart"
)

// Registry maps api-name strings to constructed adapter instances. It is
// resolved once at startup, never per request.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs adapters for every configured backend. Unknown
// backend names are rejected at startup rather than at dispatch time.
func NewRegistry(configs map[string]Config) (*Registry, error) {
	adapters := make(map[string]Adapter, len(configs))

	for name, cfg := range configs {
		var a Adapter
		switch name {
		case BackendOpenAI:
			a = NewOpenAI(cfg)
		case BackendAnthropic:
			a = NewAnthropic(cfg)
		case BackendGemini:
			a = NewGemini(cfg)
		case BackendOllama:
			a = NewOllama(cfg)
		case BackendTGI:
			a = NewTGI(cfg)
		case BackendQuart:
			a = NewQuart(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
		}
		adapters[name] = a
	}

	return &Registry{adapters: adapters}, nil
}

// NewStaticRegistry builds a registry from pre-constructed adapters, keyed
// by their names. Used by tests and by callers embedding custom backends.
func NewStaticRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Pick selects the adapter registered for the given api name.
func (r *Registry) Pick(api string) (Adapter, error) {
	a, ok := r.adapters[api]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, api)
	}
	return a, nil
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckEnvironment runs every registered adapter's readiness check and
// returns the findings keyed by backend name.
func (r *Registry) CheckEnvironment() map[string][]Issue {
	issues := make(map[string][]Issue)
	for name, a := range r.adapters {
		if found := a.CheckEnvironment(); len(found) > 0 {
			issues[name] = found
		}
	}
	return issues
}
