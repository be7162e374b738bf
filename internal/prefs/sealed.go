package prefs

import (
	"context"
	"fmt"
	"log/slog"
)

// Sealer encrypts values before they reach the backing KV.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// SealedKV encrypts the values of selected keys and passes every other key
// through unchanged.
type SealedKV struct {
	kv     KV
	sealer Sealer
	keys   map[string]bool
	logger *slog.Logger
}

// SealKeys wraps kv so the given keys are stored sealed.
func SealKeys(kv KV, sealer Sealer, logger *slog.Logger, keys ...string) *SealedKV {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return &SealedKV{
		kv:     kv,
		sealer: sealer,
		keys:   set,
		logger: logger.With(slog.String("component", "prefs")),
	}
}

// Get opens sealed values. A value that cannot be opened, for example one
// written before sealing was enabled or under another passphrase, reads as
// missing.
func (s *SealedKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok || !s.keys[key] {
		return v, ok, err
	}
	plain, err := s.sealer.Open(v)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding unreadable sealed value",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", false, nil
	}
	return plain, true, nil
}

func (s *SealedKV) Set(ctx context.Context, key, value string) error {
	if s.keys[key] {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("prefs: seal %s: %w", key, err)
		}
		value = sealed
	}
	return s.kv.Set(ctx, key, value)
}

func (s *SealedKV) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}
