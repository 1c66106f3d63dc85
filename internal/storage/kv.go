// Package storage provides the persisted key-value records the capture
// store reads and writes whole: the event log, the allow-list, the action
// snapshot and the capture flag.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/metrics"
)

// Persisted keys.
const (
	KeyEvents         = "events"
	KeyAllowList      = "allowList"
	KeyLastActions    = "lastActions"
	KeyCaptureEnabled = "captureEnabled"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// DecodeError reports a record that exists but does not decode.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Key, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// KV is a read-whole/write-whole record store. Implementations must be safe
// for concurrent use; they give no compare-and-swap guarantee.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Name() string
	Close() error
}

// Open returns the backend selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config) (KV, error) {
	switch cfg.Storage.Backend {
	case config.BackendBadger:
		return OpenBadger(cfg.Storage.Badger)
	case config.BackendRedis:
		return NewRedis(ctx, cfg.Redis)
	case config.BackendPostgres:
		return NewPostgres(ctx, cfg.Postgres)
	case config.BackendMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// GetJSON decodes the record at key into dst. A missing key leaves dst
// untouched and returns ErrNotFound.
func GetJSON(ctx context.Context, kv KV, key string, dst any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.KVErrors.WithLabelValues(kv.Name(), "get").Inc()
		}
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &DecodeError{Key: key, Err: err}
	}
	return nil
}

// SetJSON encodes v and writes it at key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, data); err != nil {
		metrics.KVErrors.WithLabelValues(kv.Name(), "set").Inc()
		return err
	}
	return nil
}
