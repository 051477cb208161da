// Package provider defines the form provider contract and the ordered chain
// the form service renders through.
package provider

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-taskforms/pkg/model"
)

// Provider attempts to render settings. Render returns nil when the provider
// does not apply or cannot produce a usable model; that is not a failure.
type Provider interface {
	Name() string
	Priority() int
	Render(ctx context.Context, settings model.RenderingSettings) model.FormRenderingSettings
}

type registration struct {
	provider Provider
	order    int
}

// ChainOption customises a Chain.
type ChainOption func(*Chain)

// WithLogger sets the chain logger.
func WithLogger(logger *zap.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Chain tries providers in ascending priority; ties keep registration order.
// When no provider renders, the default provider's result is final.
type Chain struct {
	mu       sync.RWMutex
	entries  []registration
	fallback Provider
	logger   *zap.Logger
}

// NewChain builds a chain around the default provider.
func NewChain(fallback Provider, providers []Provider, options ...ChainOption) *Chain {
	c := &Chain{fallback: fallback, logger: zap.NewNop()}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(c)
	}
	for _, p := range providers {
		c.Register(p)
	}
	return c
}

// Register adds a provider.
func (c *Chain) Register(p Provider) {
	if c == nil || p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, registration{provider: p, order: len(c.entries)})
	sort.SliceStable(c.entries, func(i, j int) bool {
		if c.entries[i].provider.Priority() == c.entries[j].provider.Priority() {
			return c.entries[i].order < c.entries[j].order
		}
		return c.entries[i].provider.Priority() < c.entries[j].provider.Priority()
	})
}

// Providers returns provider names in evaluation order.
func (c *Chain) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for _, entry := range c.entries {
		names = append(names, entry.provider.Name())
	}
	return names
}

// Render returns the first non-nil result, or the default provider's result.
func (c *Chain) Render(ctx context.Context, settings model.RenderingSettings) model.FormRenderingSettings {
	c.mu.RLock()
	entries := append([]registration(nil), c.entries...)
	c.mu.RUnlock()

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		if result := entry.provider.Render(ctx, settings); !isNil(result) {
			c.logger.Debug("provider: rendered", zap.String("provider", entry.provider.Name()))
			return result
		}
	}
	return c.RenderDefault(ctx, settings)
}

// RenderDefault invokes the default provider directly.
func (c *Chain) RenderDefault(ctx context.Context, settings model.RenderingSettings) model.FormRenderingSettings {
	if c.fallback == nil {
		return nil
	}
	c.logger.Debug("provider: falling back to default", zap.String("provider", c.fallback.Name()))
	result := c.fallback.Render(ctx, settings)
	if isNil(result) {
		return nil
	}
	return result
}

// isNil catches typed nil pointers wrapped in the interface.
func isNil(result model.FormRenderingSettings) bool {
	switch v := result.(type) {
	case nil:
		return true
	case *model.WorkbenchFormRenderingSettings:
		return v == nil
	case *model.ExternalFormRenderingSettings:
		return v == nil
	default:
		return false
	}
}
