// Package idempotency replays the stored outcome of a tenant's mutating request when a client
// retries it with the same Idempotency-Key, so a retried order creation does not reserve stock
// or consume an order number twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed outcome can be replayed.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Claim is the result of claiming a key for a request.
type Claim int

const (
	// ClaimNew means the caller owns the key and must Complete or Release it.
	ClaimNew Claim = iota
	// ClaimReplay means a completed outcome is stored and should be written back.
	ClaimReplay
	// ClaimInFlight means another request holds the key.
	ClaimInFlight
)

// ErrKeyReused is returned when a key is presented with a different request body or route.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Scope identifies a key within a tenant.
type Scope struct {
	TenantID string
	Key      string
}

func (s Scope) id() string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(s.TenantID) + "\x00" + strings.TrimSpace(s.Key)))
	return hex.EncodeToString(sum[:])
}

// Entry is the stored state of a key.
type Entry struct {
	TenantID        string
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is the captured outcome stored for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists claimed keys and their outcomes.
type Store interface {
	Claim(ctx context.Context, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (Claim, Entry, error)
	Complete(ctx context.Context, scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, scope Scope) error
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func pendingEntry(scope Scope, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{
		TenantID:    scope.TenantID,
		Key:         scope.Key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// classify decides the claim for an existing, unexpired entry.
func classify(entry Entry, fingerprint string) (Claim, error) {
	if entry.Fingerprint != fingerprint {
		return 0, ErrKeyReused
	}
	if entry.Status == StatusCompleted {
		return ClaimReplay, nil
	}
	return ClaimInFlight, nil
}

func completeEntry(entry Entry, resp Response, now time.Time, ttl time.Duration) Entry {
	entry.Status = StatusCompleted
	entry.ResponseStatus = resp.Status
	entry.ResponseHeaders = storableHeaders(resp.Headers)
	entry.ResponseBody = nil
	if len(resp.Body) > 0 {
		entry.ResponseBody = append([]byte(nil), resp.Body...)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.ExpiresAt = now.Add(ttl)
	return entry
}

func normaliseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func storableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch canonical {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer":
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
