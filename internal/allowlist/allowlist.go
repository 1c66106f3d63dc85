// Package allowlist holds the host patterns capture is restricted to.
// A pattern is an exact hostname or "*.suffix", which matches the suffix
// itself and any subdomain of it.
package allowlist

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/faultline/faultline/internal/storage"
)

type List struct {
	kv       storage.KV
	defaults []string
}

func New(kv storage.KV, defaults []string) *List {
	return &List{kv: kv, defaults: Normalize(defaults)}
}

// Get returns the persisted list, or the defaults if none was written.
func (l *List) Get(ctx context.Context) ([]string, error) {
	var patterns []string
	err := storage.GetJSON(ctx, l.kv, storage.KeyAllowList, &patterns)
	if err == nil {
		return patterns, nil
	}

	var decodeErr *storage.DecodeError
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case errors.As(err, &decodeErr):
		log.Warn().Err(err).Msg("Unreadable allow-list, using defaults")
	default:
		return nil, err
	}
	return append([]string{}, l.defaults...), nil
}

// Set replaces the list. Patterns are trimmed and lowercased; blanks are
// dropped.
func (l *List) Set(ctx context.Context, patterns []string) ([]string, error) {
	normalized := Normalize(patterns)
	if err := storage.SetJSON(ctx, l.kv, storage.KeyAllowList, normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// IsAllowed reports whether urlOrHost matches the current list. Any failure
// means not allowed.
func (l *List) IsAllowed(ctx context.Context, urlOrHost string) bool {
	patterns, err := l.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read allow-list")
		return false
	}
	return Match(patterns, urlOrHost)
}

// Match reports whether the host of urlOrHost matches any pattern.
func Match(patterns []string, urlOrHost string) bool {
	host, ok := Host(urlOrHost)
	if !ok {
		return false
	}
	for _, pattern := range patterns {
		if base, wildcard := strings.CutPrefix(pattern, "*."); wildcard {
			if host == base || strings.HasSuffix(host, "."+base) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}

// Host extracts the lowercased hostname from a URL or bare host.
func Host(urlOrHost string) (string, bool) {
	s := strings.TrimSpace(urlOrHost)
	if s == "" {
		return "", false
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", false
		}
		s = u.Hostname()
	}
	if s == "" {
		return "", false
	}
	return strings.ToLower(s), true
}

func Normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
