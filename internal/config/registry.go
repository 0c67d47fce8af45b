package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/verbamed/verbamed/internal/observe"
	"github.com/verbamed/verbamed/pkg/recognizer"
	"github.com/verbamed/verbamed/pkg/recognizer/remote"
	"github.com/verbamed/verbamed/pkg/recognizer/whisper"
)

// ErrBackendNotRegistered is returned by [Registry.CreateRecognizer] when no
// factory has been registered under the requested backend kind.
var ErrBackendNotRegistered = errors.New("config: recognizer backend not registered")

// RecognizerFactory constructs a recognition backend from its config block.
type RecognizerFactory func(RecognizerConfig) (recognizer.Recognizer, error)

// Registry maps backend kinds to their constructor functions. The backend is
// chosen once at construction time from [RecognizerConfig.Backend]; there is
// no runtime switching. Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[Backend]RecognizerFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[Backend]RecognizerFactory),
	}
}

// RegisterRecognizer registers a factory under the given backend kind,
// replacing any previous registration.
func (r *Registry) RegisterRecognizer(kind Backend, f RecognizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[kind] = f
}

// CreateRecognizer constructs the backend selected by cfg.Backend.
func (r *Registry) CreateRecognizer(cfg RecognizerConfig) (recognizer.Recognizer, error) {
	r.mu.RLock()
	f, ok := r.recognizers[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return f(cfg)
}

// DefaultRegistry returns a Registry with both built-in backends registered:
// local whisper.cpp inference and the remote WebSocket recognition service.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterRecognizer(BackendLocal, func(cfg RecognizerConfig) (recognizer.Recognizer, error) {
		var opts []whisper.Option
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		return whisper.New(cfg.ModelPath, opts...)
	})

	r.RegisterRecognizer(BackendRemote, func(cfg RecognizerConfig) (recognizer.Recognizer, error) {
		opts := []remote.ConnOption{
			// Soft timeouts are only visible inside the connection's round
			// loop; count them from there.
			remote.WithTimeoutHook(func() {
				observe.DefaultMetrics().RecordBackendTimeout(context.Background())
			}),
		}
		if cfg.ResponseTimeout > 0 {
			opts = append(opts, remote.WithResponseTimeout(cfg.ResponseTimeout))
		}
		if cfg.DialTimeout > 0 {
			opts = append(opts, remote.WithDialTimeout(cfg.DialTimeout))
		}
		return remote.New(cfg.Endpoint, opts...), nil
	})

	return r
}
