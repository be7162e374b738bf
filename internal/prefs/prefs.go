// Package prefs keeps the small set of locally persisted user preferences:
// the active network, the auth token, feature flags and the onboarding
// marker. Values live in a KV backend and are repaired on read when they
// are missing or invalid.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// Storage keys.
const (
	KeyActiveNetwork   = "activeNetwork"
	KeyAuthToken       = "auth_token"
	KeyFlags           = "flags"
	KeyOnboardingShown = "is_onboarding_shown"
)

// DefaultNetwork is used whenever the stored network is missing or invalid.
const DefaultNetwork = domain.NetworkTestnet

// DefaultFlags is the set of known feature flags with their default values.
var DefaultFlags = map[string]bool{
	"showHints":        true,
	"showAnnouncement": true,
	"showPoolsBanner":  true,
	"advancedCharts":   false,
}

// KV is a string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Prefs reads and writes preferences through a KV.
type Prefs struct {
	kv       KV
	defaults map[string]bool
	logger   *slog.Logger
}

// New creates Prefs over kv with DefaultFlags.
func New(kv KV, logger *slog.Logger) *Prefs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefs{
		kv:       kv,
		defaults: DefaultFlags,
		logger:   logger.With(slog.String("component", "prefs")),
	}
}

// WithDefaults returns a copy of p that merges flags against defaults.
func (p *Prefs) WithDefaults(defaults map[string]bool) *Prefs {
	cp := *p
	cp.defaults = maps.Clone(defaults)
	return &cp
}

// Network returns the active network. A missing or unknown value is
// replaced by DefaultNetwork and written back.
func (p *Prefs) Network(ctx context.Context) (domain.Network, error) {
	raw, ok, err := p.kv.Get(ctx, KeyActiveNetwork)
	if err != nil {
		return "", fmt.Errorf("prefs: get network: %w", err)
	}
	n := domain.Network(raw)
	if ok && n.Valid() {
		return n, nil
	}
	if ok {
		p.logger.Warn("repairing invalid network", slog.String("stored", raw))
	}
	if err := p.kv.Set(ctx, KeyActiveNetwork, string(DefaultNetwork)); err != nil {
		return "", fmt.Errorf("prefs: repair network: %w", err)
	}
	return DefaultNetwork, nil
}

// SeedNetwork returns the stored network. On first start nothing is stored
// and fallback is written instead, so a configured default only applies until
// the user picks a network.
func (p *Prefs) SeedNetwork(ctx context.Context, fallback domain.Network) (domain.Network, error) {
	_, ok, err := p.kv.Get(ctx, KeyActiveNetwork)
	if err != nil {
		return "", fmt.Errorf("prefs: get network: %w", err)
	}
	if !ok && fallback.Valid() {
		if err := p.SetNetwork(ctx, fallback); err != nil {
			return "", err
		}
	}
	return p.Network(ctx)
}

// SetNetwork stores the active network.
func (p *Prefs) SetNetwork(ctx context.Context, n domain.Network) error {
	if !n.Valid() {
		return fmt.Errorf("prefs: set network %q: %w", n, domain.ErrInvalidArgument)
	}
	if err := p.kv.Set(ctx, KeyActiveNetwork, string(n)); err != nil {
		return fmt.Errorf("prefs: set network: %w", err)
	}
	return nil
}

// AuthToken returns the stored bearer token, empty when there is none.
func (p *Prefs) AuthToken(ctx context.Context) (string, error) {
	tok, _, err := p.kv.Get(ctx, KeyAuthToken)
	if err != nil {
		return "", fmt.Errorf("prefs: get auth token: %w", err)
	}
	return tok, nil
}

// SetAuthToken stores the bearer token.
func (p *Prefs) SetAuthToken(ctx context.Context, token string) error {
	if err := p.kv.Set(ctx, KeyAuthToken, token); err != nil {
		return fmt.Errorf("prefs: set auth token: %w", err)
	}
	return nil
}

// ClearAuthToken removes the bearer token.
func (p *Prefs) ClearAuthToken(ctx context.Context) error {
	if err := p.kv.Delete(ctx, KeyAuthToken); err != nil {
		return fmt.Errorf("prefs: clear auth token: %w", err)
	}
	return nil
}

// OnboardingShown reports whether the onboarding has been shown.
func (p *Prefs) OnboardingShown(ctx context.Context) (bool, error) {
	v, ok, err := p.kv.Get(ctx, KeyOnboardingShown)
	if err != nil {
		return false, fmt.Errorf("prefs: get onboarding: %w", err)
	}
	return ok && v != "" && v != "false", nil
}

// MarkOnboardingShown records that the onboarding has been shown.
func (p *Prefs) MarkOnboardingShown(ctx context.Context) error {
	if err := p.kv.Set(ctx, KeyOnboardingShown, "true"); err != nil {
		return fmt.Errorf("prefs: set onboarding: %w", err)
	}
	return nil
}

// SyncFlags reconciles the stored flags with the defaults: flags unknown to
// the defaults are dropped, missing ones are added with their default value
// and the result is written back. Unreadable stored flags are reset.
func (p *Prefs) SyncFlags(ctx context.Context) (map[string]bool, error) {
	stored, err := p.storedFlags(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]bool, len(p.defaults))
	for name, def := range p.defaults {
		if v, ok := stored[name]; ok {
			merged[name] = v
			continue
		}
		merged[name] = def
	}
	if err := p.saveFlags(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Flags returns the stored flags merged with the defaults, without writing.
func (p *Prefs) Flags(ctx context.Context) (map[string]bool, error) {
	stored, err := p.storedFlags(ctx)
	if err != nil {
		return nil, err
	}
	out := maps.Clone(p.defaults)
	for name := range out {
		if v, ok := stored[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// UpdateFlag sets a known flag. Unknown flags are rejected.
func (p *Prefs) UpdateFlag(ctx context.Context, name string, value bool) error {
	if _, ok := p.defaults[name]; !ok {
		return fmt.Errorf("prefs: unknown flag %q: %w", name, domain.ErrInvalidArgument)
	}
	flags, err := p.Flags(ctx)
	if err != nil {
		return err
	}
	flags[name] = value
	return p.saveFlags(ctx, flags)
}

func (p *Prefs) storedFlags(ctx context.Context) (map[string]bool, error) {
	raw, ok, err := p.kv.Get(ctx, KeyFlags)
	if err != nil {
		return nil, fmt.Errorf("prefs: get flags: %w", err)
	}
	stored := map[string]bool{}
	if !ok || raw == "" {
		return stored, nil
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		p.logger.Warn("resetting unreadable flags", slog.String("error", err.Error()))
		return map[string]bool{}, nil
	}
	return stored, nil
}

func (p *Prefs) saveFlags(ctx context.Context, flags map[string]bool) error {
	b, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("prefs: encode flags: %w", err)
	}
	if err := p.kv.Set(ctx, KeyFlags, string(b)); err != nil {
		return fmt.Errorf("prefs: save flags: %w", err)
	}
	return nil
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (kv *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.m[key]
	return v, ok, nil
}

func (kv *MemoryKV) Set(_ context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.m[key] = value
	return nil
}

func (kv *MemoryKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.m, key)
	return nil
}
