package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/respond"
	"github.com/earshot-ai/earshot/pkg/provider/synth"
	"github.com/earshot-ai/earshot/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	transcribe map[string]func(ProviderEntry) (transcribe.Provider, error)
	respond    map[string]func(ProviderEntry) (respond.Provider, error)
	synth      map[string]func(ProviderEntry) (synth.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribe: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
		respond:    make(map[string]func(ProviderEntry) (respond.Provider, error)),
		synth:      make(map[string]func(ProviderEntry) (synth.Provider, error)),
	}
}

// RegisterTranscribe registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscribe(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe[name] = factory
}

// RegisterRespond registers a response provider factory under name.
func (r *Registry) RegisterRespond(name string, factory func(ProviderEntry) (respond.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.respond[name] = factory
}

// RegisterSynth registers a synthesis provider factory under name.
func (r *Registry) RegisterSynth(name string, factory func(ProviderEntry) (synth.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synth[name] = factory
}

// CreateTranscribe instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscribe(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcribe[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateRespond instantiates a response provider using the factory
// registered under entry.Name.
func (r *Registry) CreateRespond(entry ProviderEntry) (respond.Provider, error) {
	r.mu.RLock()
	factory, ok := r.respond[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: respond/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynth instantiates a synthesis provider using the factory
// registered under entry.Name.
func (r *Registry) CreateSynth(entry ProviderEntry) (synth.Provider, error) {
	r.mu.RLock()
	factory, ok := r.synth[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synth/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
