package plugin

import (
	"context"
	"fmt"
	"sort"
)

// DiagnoseRequest carries the inputs to a C5 provider's Diagnose call. Image
// and MaskImage are raw bytes (JPEG/PNG). The vlm adapter base64-encodes
// Image per the dialect it targets; it does not send MaskImage.
type DiagnoseRequest struct {
	PlantID         int
	Image           []byte
	MaskImage       []byte
	MaskDescription string
	MaskPrompt      string
}

// Provider is the uniform capability surface across VLM backends (§4.5).
// Implementations are stateless per call; the caller supplies the
// provider's configuration snapshot at Init and never mutates it
// concurrently with a call in flight.
type Provider interface {
	Lifecycle
	GenerateMaskPrompt(ctx context.Context, image []byte) (string, error)
	Diagnose(ctx context.Context, req DiagnoseRequest) (string, error)
}

// ProviderFactory returns a new, unconfigured Provider instance.
type ProviderFactory func() Provider

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider registers a provider factory under name.
func RegisterProvider(name string, factory ProviderFactory) {
	if name == "" {
		panic("plugin: provider name cannot be empty")
	}
	if factory == nil {
		panic("plugin: provider factory cannot be nil")
	}
	if _, exists := providerRegistry[name]; exists {
		panic(fmt.Sprintf("plugin: provider %q already registered", name))
	}
	providerRegistry[name] = factory
}

// GetProviderFactory returns the factory registered under name.
func GetProviderFactory(name string) (ProviderFactory, error) {
	factory, ok := providerRegistry[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, ErrNotFound)
	}
	return factory, nil
}

// ListProviders returns the sorted names of every registered provider.
func ListProviders() []string {
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
