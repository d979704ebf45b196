// Package profile provides the single business profile that personalizes
// outbound messages and the assistant prompt.
package profile

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/leadrelay/pkg/logging"
)

// ErrProfileNotFound is returned by stores when no profile row exists.
var ErrProfileNotFound = errors.New("profile: not found")

const (
	DefaultCompanyName   = "SolarFlash"
	DefaultAssistantName = "Sarah"
)

// Config is the read-only tenant profile.
type Config struct {
	CompanyName        string `json:"company_name"`
	AssistantName      string `json:"assistant_name"`
	SchedulingLink     string `json:"scheduling_link,omitempty"`
	CustomSystemPrompt string `json:"custom_system_prompt,omitempty"`
}

// DefaultConfig returns the built-in profile.
func DefaultConfig() Config {
	return Config{
		CompanyName:   DefaultCompanyName,
		AssistantName: DefaultAssistantName,
	}
}

// WithDefaults fills blank fields from fallback.
func (c Config) WithDefaults(fallback Config) Config {
	if strings.TrimSpace(c.CompanyName) == "" {
		c.CompanyName = fallback.CompanyName
	}
	if strings.TrimSpace(c.AssistantName) == "" {
		c.AssistantName = fallback.AssistantName
	}
	if strings.TrimSpace(c.SchedulingLink) == "" {
		c.SchedulingLink = fallback.SchedulingLink
	}
	if strings.TrimSpace(c.CustomSystemPrompt) == "" {
		c.CustomSystemPrompt = fallback.CustomSystemPrompt
	}
	return c
}

// Store loads the current profile.
type Store interface {
	Current(ctx context.Context) (Config, error)
}

// Resolver wraps a Store and never fails: lookup errors and missing rows
// resolve to the configured defaults.
type Resolver struct {
	store    Store
	defaults Config
	logger   *logging.Logger
}

// NewResolver builds a resolver. A nil store always yields defaults.
func NewResolver(store Store, defaults Config, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		store:    store,
		defaults: defaults.WithDefaults(DefaultConfig()),
		logger:   logger,
	}
}

// Resolve returns the current profile with blanks filled from defaults.
func (r *Resolver) Resolve(ctx context.Context) Config {
	if r == nil {
		return DefaultConfig()
	}
	if r.store == nil {
		return r.defaults
	}
	cfg, err := r.store.Current(ctx)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			r.logger.Warn("profile lookup failed, using defaults", "error", err)
		}
		return r.defaults
	}
	return cfg.WithDefaults(r.defaults)
}

// Static is a Store that always returns the same profile.
type Static Config

// Current implements Store.
func (s Static) Current(context.Context) (Config, error) {
	return Config(s), nil
}
