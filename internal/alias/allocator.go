// Package alias decides which short code a new URL gets: it validates a
// caller-supplied custom code or draws random candidates, using the store's
// uniqueness constraint as the safety net.
package alias

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/shortkit/shortkit/internal"
	"github.com/shortkit/shortkit/internal/store"
)

// codeAlphabet is the 62-symbol alphabet for generated codes. At length 6
// that is 62^6 (~5.6e10) possible codes, so repeated collisions mean a
// near-full table or a broken random source rather than bad luck.
const codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	codeLength      = 6
	maxCodeLength   = 20
	defaultAttempts = 10
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Allocator reserves unique short codes for new URLs and resolves them on
// the redirect path. Safe for concurrent use; all state lives in the store.
type Allocator struct {
	store    store.Store
	attempts int
}

func New(st store.Store) *Allocator {
	return &Allocator{store: st, attempts: defaultAttempts}
}

// WithAttempts overrides the random-code retry budget.
func (a *Allocator) WithAttempts(n int) *Allocator {
	if n > 0 {
		a.attempts = n
	}
	return a
}

// Allocate validates originalURL and reserves a short code for it. With a
// non-empty customCode the allocation is a single attempt; otherwise random
// candidates are drawn until one inserts cleanly or the budget runs out.
// The daily creation counter is bumped exactly once, after the insert.
func (a *Allocator) Allocate(ctx context.Context, originalURL, customCode string) (*internal.URLMapping, error) {
	if err := validateURL(originalURL); err != nil {
		return nil, err
	}

	if customCode != "" {
		return a.allocateCustom(ctx, originalURL, customCode)
	}
	return a.allocateRandom(ctx, originalURL)
}

func (a *Allocator) allocateCustom(ctx context.Context, originalURL, code string) (*internal.URLMapping, error) {
	if !ValidCode(code) {
		return nil, internal.ErrInvalidCodeFormat
	}
	taken, err := a.store.Exists(ctx, code)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, internal.ErrCodeTaken
	}
	mapping, err := a.store.Insert(ctx, code, originalURL)
	if err != nil {
		// A race lost after the pre-check still means the code is taken;
		// the caller asked for this exact code, so no retry.
		if errors.Is(err, internal.ErrDuplicateCode) {
			return nil, internal.ErrCodeTaken
		}
		return nil, err
	}
	return mapping, a.recordCreation(ctx)
}

func (a *Allocator) allocateRandom(ctx context.Context, originalURL string) (*internal.URLMapping, error) {
	for i := 0; i < a.attempts; i++ {
		code, err := randomCode(codeLength)
		if err != nil {
			return nil, err
		}
		taken, err := a.store.Exists(ctx, code)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}
		mapping, err := a.store.Insert(ctx, code, originalURL)
		if err != nil {
			// Lost the race between the check and the insert; the fresh
			// candidate on the next pass counts against the same budget.
			if errors.Is(err, internal.ErrDuplicateCode) {
				continue
			}
			return nil, err
		}
		return mapping, a.recordCreation(ctx)
	}
	return nil, internal.ErrAllocationExhausted
}

func (a *Allocator) recordCreation(ctx context.Context) error {
	if err := a.store.RecordCreation(ctx); err != nil {
		return fmt.Errorf("failed to record creation stat: %w", err)
	}
	return nil
}

// Resolve is the redirect-time path: look the code up, count the click and
// today's aggregate atomically, and hand back the mapping. An unknown code
// yields internal.ErrNotFound.
func (a *Allocator) Resolve(ctx context.Context, code string) (*internal.URLMapping, error) {
	mapping, err := a.store.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := a.store.RecordClick(ctx, code); err != nil {
		return nil, err
	}
	return mapping, nil
}

// ValidCode reports whether code matches [A-Za-z0-9_-]{1,20}.
func ValidCode(code string) bool {
	if code == "" || len(code) > maxCodeLength {
		return false
	}
	return codePattern.MatchString(code)
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return internal.ErrInvalidURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return internal.ErrInvalidURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return internal.ErrInvalidURL
	}
	if parsed.Host == "" {
		return internal.ErrInvalidURL
	}
	return nil
}

// randomCode draws length characters uniformly from codeAlphabet using
// crypto/rand.
func randomCode(length int) (string, error) {
	code := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random code: %w", err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
