package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// CachedEntry is the serialized form StateStore owns: a state snapshot plus
// an absolute expiry and an integrity MAC over the snapshot.
type CachedEntry struct {
	State     map[string]any `json:"state"`
	MAC       string         `json:"mac,omitempty"`
	CachedAt  time.Time      `json:"cached_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	HitCount  int            `json:"hit_count"`
}

// StateStore is a process-local signed cache of entitlement states. Every
// read re-verifies before trusting: the HMAC always, and the authority
// signature through FromCache when a verifier is configured and the entry
// carries one. A failed verification purges the entry and surfaces the error;
// a tampered cache entry is a security signal, not a cache miss.
type StateStore struct {
	mu         sync.RWMutex
	entries    map[string]CachedEntry
	verifier   *SignatureVerifier
	macKey     []byte
	defaultTTL time.Duration
	maxSize    int
	hitCount   int64
	missCount  int64
	evictions  int64
	purged     int64
}

// storeKeySalt fixes the PBKDF2 derivation so MACs survive process restarts
// with the same secret.
var storeKeySalt = []byte("entitled-state-store-v1")

// NewStateStore creates a store. secret seeds the per-installation HMAC key;
// an empty secret disables the MAC layer (the verifier still applies).
func NewStateStore(verifier *SignatureVerifier, secret string, defaultTTL time.Duration, maxSize int) *StateStore {
	s := &StateStore{
		entries:    make(map[string]CachedEntry),
		verifier:   verifier,
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
	}
	if secret != "" {
		s.macKey = pbkdf2.Key([]byte(secret), storeKeySalt, 4096, 32, sha256.New)
	}
	return s
}

// Set serializes a state with an absolute expiry. A zero ttl uses the store
// default.
func (s *StateStore) Set(key string, state *EntitlementState, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize <= 0 {
		return
	}
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxSize {
		s.evictOldestLocked()
	}

	serialized := state.ToMap()
	now := time.Now()
	s.entries[key] = CachedEntry{
		State:     serialized,
		MAC:       s.computeMAC(serialized),
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Get returns the cached state for key, re-verifying it first. A TTL-expired
// entry is purged and reported as a miss. A verification failure purges the
// entry and returns the error.
func (s *StateStore) Get(key string) (*EntitlementState, error) {
	s.mu.Lock()
	entry, exists := s.entries[key]
	if !exists {
		s.missCount++
		s.mu.Unlock()
		return nil, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(s.entries, key)
		s.missCount++
		s.mu.Unlock()
		return nil, nil
	}
	entry.HitCount++
	s.entries[key] = entry
	s.mu.Unlock()

	if err := s.verifyMAC(entry); err != nil {
		s.purge(key)
		return nil, err
	}

	verifier := s.verifier
	if _, hasSig := entry.State["signature"]; !hasSig && s.macKey != nil {
		// Synthetic and offline-derived states carry no authority signature;
		// the MAC above already vouched for them.
		verifier = nil
	}
	state, err := FromCache(entry.State, verifier)
	if err != nil {
		s.purge(key)
		return nil, err
	}

	s.mu.Lock()
	s.hitCount++
	s.mu.Unlock()
	return state, nil
}

// ClearLicense removes all entries whose key starts with prefix.
func (s *StateStore) ClearLicense(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// GC sweeps all TTL-expired entries and returns how many were removed.
func (s *StateStore) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics for monitoring.
func (s *StateStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.hitCount + s.missCount
	hitRatio := float64(0)
	if total > 0 {
		hitRatio = float64(s.hitCount) / float64(total)
	}
	return map[string]any{
		"entries":     len(s.entries),
		"max_size":    s.maxSize,
		"hit_count":   s.hitCount,
		"miss_count":  s.missCount,
		"hit_ratio":   hitRatio,
		"evictions":   s.evictions,
		"purged":      s.purged,
		"ttl_seconds": s.defaultTTL.Seconds(),
		"mac_enabled": s.macKey != nil,
	}
}

func (s *StateStore) purge(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.purged++
	s.mu.Unlock()
}

func (s *StateStore) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range s.entries {
		if oldestKey == "" || entry.CachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CachedAt
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
		s.evictions++
	}
}

func (s *StateStore) computeMAC(serialized map[string]any) string {
	if s.macKey == nil {
		return ""
	}
	canonical, err := CanonicalizeJSON(serialized)
	if err != nil {
		return ""
	}
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *StateStore) verifyMAC(entry CachedEntry) error {
	if s.macKey == nil {
		return nil
	}
	expected := s.computeMAC(entry.State)
	if expected == "" || !hmac.Equal([]byte(expected), []byte(entry.MAC)) {
		return &VerificationError{Reason: "cache entry integrity check failed"}
	}
	return nil
}
