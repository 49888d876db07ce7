package license

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"entitled/internal/security"
)

// Default orchestration settings applied when ManagerConfig leaves them zero.
const (
	DefaultCacheTTL             = 5 * time.Minute
	DefaultCacheMaxSize         = 1000
	DefaultRevalidationInterval = 24 * time.Hour
	DefaultOfflineExpiryLeeway  = 24 * time.Hour
	DefaultRateLimitRPS         = 1
	DefaultRateLimitBurst       = 5
)

// AuthorityClient is the outbound surface to the validation authority. All
// responses are raw decoded JSON envelopes; the resolver owns their
// interpretation. Implementations return a NetworkError (or any error
// matching ErrNetwork) for transport-level failures so the orchestrator can
// distinguish "authority unreachable" from "authority said no".
type AuthorityClient interface {
	ValidateLicense(ctx context.Context, licenseKey, contextID string) (map[string]any, error)
	ActivateLicense(ctx context.Context, licenseKey, contextID string) (map[string]any, error)
	CheckFeature(ctx context.Context, licenseKey, feature string) (map[string]any, error)
}

// ManagerConfig configures the entitlement manager.
type ManagerConfig struct {
	// PublicKeyPEM is the RSA verification key for authority signatures and
	// offline license files.
	PublicKeyPEM string
	// LicenseDir holds imported offline license files.
	LicenseDir string

	CacheTTL     time.Duration
	CacheMaxSize int
	// CacheSecret seeds the cache integrity MAC. Empty disables it.
	CacheSecret string

	// RevalidationInterval is how stale a cached state may get before the
	// authority is consulted again.
	RevalidationInterval time.Duration
	// OfflineExpiryLeeway tolerates clock drift on offline expiry checks.
	OfflineExpiryLeeway time.Duration

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

func (c *ManagerConfig) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheMaxSize <= 0 {
		c.CacheMaxSize = DefaultCacheMaxSize
	}
	if c.RevalidationInterval <= 0 {
		c.RevalidationInterval = DefaultRevalidationInterval
	}
	if c.OfflineExpiryLeeway <= 0 {
		c.OfflineExpiryLeeway = DefaultOfflineExpiryLeeway
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = DefaultRateLimitRPS
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = DefaultRateLimitBurst
	}
}

// ValidateOptions tunes a single resolution.
type ValidateOptions struct {
	// ForceNetwork skips the offline license file and any cached state.
	ForceNetwork bool
	// NoCache skips reading and writing the state cache.
	NoCache bool
	// TTL overrides the cache TTL for the resulting entry.
	TTL time.Duration
}

// Manager orchestrates entitlement resolution: offline license files first,
// then the network authority, with the signed state cache and grace fallback
// in between. It is safe for concurrent use.
type Manager struct {
	cfg         ManagerConfig
	verifier    *SignatureVerifier
	resolver    *StateResolver
	store       *StateStore
	authority   AuthorityClient
	fingerprint *security.FingerprintProvider
	limiter     *rate.Limiter
	flight      singleflight.Group
	metrics     *EngineMetrics
	now         func() time.Time
}

// NewManager builds a manager around an authority client. The authority may
// be nil for purely offline deployments; network paths then fail with
// ErrNetwork and the offline and cache layers carry the load.
func NewManager(cfg ManagerConfig, authority AuthorityClient) (*Manager, error) {
	cfg.applyDefaults()

	verifier, err := NewSignatureVerifier([]byte(cfg.PublicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signature verifier: %w", err)
	}

	m := &Manager{
		cfg:         cfg,
		verifier:    verifier,
		resolver:    NewStateResolver(verifier),
		store:       NewStateStore(verifier, cfg.CacheSecret, cfg.CacheTTL, cfg.CacheMaxSize),
		authority:   authority,
		fingerprint: security.NewFingerprintProvider(),
		now:         time.Now,
	}
	if cfg.RateLimitEnabled {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	return m, nil
}

// SetMetrics attaches engine metrics. Optional; without them the manager
// records nothing.
func (m *Manager) SetMetrics(metrics *EngineMetrics) {
	m.metrics = metrics
}

// LicenseFilePath returns where the offline license file for a key lives.
// The name is derived from the key hash so the key itself never appears on
// disk.
func (m *Manager) LicenseFilePath(licenseKey string) string {
	return filepath.Join(m.cfg.LicenseDir, HashLicenseKey(licenseKey)+".lic")
}

// InstallLicenseFile verifies an offline license document and writes it to
// the license directory. The content is rejected before anything touches
// disk: bad signature, wrong key, wrong machine or expired all fail here.
func (m *Manager) InstallLicenseFile(ctx context.Context, licenseKey, content string) error {
	start := m.now()
	key := NormalizeLicenseKey(licenseKey)
	if err := ValidateLicenseKeyFormat(key); err != nil {
		return err
	}

	doc, err := ParseLicenseFile(content, []byte(m.cfg.PublicKeyPEM))
	if err != nil {
		m.logAction(ctx, slog.LevelWarn, "install_license", "license file rejected",
			slog.String("license_key_masked", MaskLicenseKey(key)),
			slog.String("error", err.Error()))
		return err
	}
	if err := VerifyOfflineBinding(doc, key, m.machineContext()); err != nil {
		return err
	}
	if err := VerifyOfflineExpiry(doc, m.cfg.OfflineExpiryLeeway, m.now()); err != nil {
		return err
	}

	path := m.LicenseFilePath(key)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write license file: %w", err)
	}

	m.logOperation(ctx, "install_license", start, nil)
	return nil
}

// RemoveLicenseFile deletes the offline license file for a key. A missing
// file is not an error.
func (m *Manager) RemoveLicenseFile(licenseKey string) error {
	err := os.Remove(m.LicenseFilePath(NormalizeLicenseKey(licenseKey)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove license file: %w", err)
	}
	return nil
}

// ValidateLicense resolves a fresh entitlement state for a key, offline
// file first, then the authority. The result is cached unless opts says
// otherwise.
//
// A present-but-invalid license file is a hard failure: a corrupt,
// mismatched or expired file must surface, not silently degrade to a
// network check. Only a missing file falls through.
func (m *Manager) ValidateLicense(ctx context.Context, licenseKey string, opts ValidateOptions) (*EntitlementState, error) {
	start := m.now()
	key := NormalizeLicenseKey(licenseKey)
	if err := ValidateLicenseKeyFormat(key); err != nil {
		return nil, err
	}

	var offline *EntitlementState
	if !opts.ForceNetwork {
		state, due, err := m.validateOffline(ctx, key)
		if err != nil {
			m.recordValidation(ctx, start, false)
			return nil, err
		}
		if state != nil && !due {
			m.cacheState(key, state, opts)
			m.recordValidation(ctx, start, true)
			return state, nil
		}
		// A network check is due; keep the offline state as the fallback
		// if the authority is unreachable.
		offline = state
	}

	state, err := m.validateRemote(ctx, key)
	if err != nil {
		if offline != nil && IsNetworkFailure(err) {
			m.logAction(ctx, slog.LevelWarn, "validate", "authority unreachable, using offline license",
				slog.String("license_key_masked", MaskLicenseKey(key)),
				slog.String("error", err.Error()))
			m.cacheState(key, offline, opts)
			m.recordValidation(ctx, start, true)
			return offline, nil
		}
		m.recordValidation(ctx, start, false)
		m.logOperation(ctx, "validate", start, err)
		return nil, err
	}

	m.cacheState(key, state, opts)
	m.recordValidation(ctx, start, true)
	m.logOperation(ctx, "validate", start, nil)
	return state, nil
}

// validateOffline reads and verifies the offline license file for key. It
// returns (nil, false, nil) when no file exists, and (state, due, nil) when
// the file is valid; due reports whether the file's own policy asks for a
// network confirmation.
func (m *Manager) validateOffline(ctx context.Context, key string) (*EntitlementState, bool, error) {
	path := m.LicenseFilePath(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read license file: %w", err)
	}

	doc, err := ParseLicenseFile(string(data), []byte(m.cfg.PublicKeyPEM))
	if err != nil {
		m.recordSignatureFailure(ctx)
		m.logAction(ctx, slog.LevelError, "validate_offline", "license file failed verification",
			slog.String("license_key_masked", MaskLicenseKey(key)),
			slog.String("error", err.Error()))
		return nil, false, err
	}
	if err := VerifyOfflineBinding(doc, key, m.machineContext()); err != nil {
		return nil, false, err
	}
	if err := VerifyOfflineExpiry(doc, m.cfg.OfflineExpiryLeeway, m.now()); err != nil {
		return nil, false, err
	}

	state, err := m.resolver.ResolveFromOffline(ctx, doc, key)
	if err != nil {
		return nil, false, err
	}

	policy := ParseOfflineCheckPolicy(doc)
	return state, policy.DueForNetworkCheck(m.now()), nil
}

// validateRemote performs the authority round trip. Concurrent callers for
// the same key share one flight.
func (m *Manager) validateRemote(ctx context.Context, key string) (*EntitlementState, error) {
	if m.authority == nil {
		return nil, &NetworkError{Op: "validate", Err: fmt.Errorf("no authority client configured")}
	}
	result, err, _ := m.flight.Do("validate:"+key, func() (any, error) {
		// Inside the flight so joined callers cost one token, not one each.
		if m.limiter != nil && !m.limiter.Allow() {
			m.recordRateLimitHit(ctx)
			return nil, fmt.Errorf("%w: authority call budget exhausted", ErrRateLimited)
		}
		response, err := m.authority.ValidateLicense(ctx, key, m.machineContext())
		if err != nil {
			return nil, err
		}
		if IsErrorResponse(response) {
			return nil, m.resolver.ErrorForResponse(response)
		}
		state, err := m.resolver.ResolveFromValidation(ctx, response, key)
		if err != nil {
			m.recordSignatureFailure(ctx)
			return nil, err
		}
		return state, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*EntitlementState), nil
}

// ResolveLicenseState is the cache-first entry point. A fresh cached state
// is returned directly; a stale or missing one triggers ValidateLicense. A
// cached state that fails verification on read surfaces the error to the
// caller. When the authority is unreachable and the cached state still allows
// operation, a grace state derived from it is returned instead of the
// error.
func (m *Manager) ResolveLicenseState(ctx context.Context, licenseKey string, opts ValidateOptions) (*EntitlementState, error) {
	key := NormalizeLicenseKey(licenseKey)
	if err := ValidateLicenseKeyFormat(key); err != nil {
		return nil, err
	}

	var cached *EntitlementState
	if !opts.NoCache && !opts.ForceNetwork {
		state, err := m.store.Get(key)
		if err != nil {
			// Tampered entry. The store has purged it; the caller gets the
			// verification failure rather than a silent re-resolve.
			m.recordSignatureFailure(ctx)
			m.logAction(ctx, slog.LevelError, "resolve", "cached state failed verification",
				slog.String("license_key_masked", MaskLicenseKey(key)),
				slog.String("error", err.Error()))
			return nil, err
		}
		if state != nil {
			m.recordCacheHit(ctx)
			if !state.NeedsRevalidation(m.cfg.RevalidationInterval) {
				return state, nil
			}
			cached = state
		} else {
			m.recordCacheMiss(ctx)
		}
	}

	state, err := m.ValidateLicense(ctx, key, opts)
	if err == nil {
		return state, nil
	}

	if IsNetworkFailure(err) && cached != nil && cached.AllowsOperation() {
		grace := m.resolver.CreateGraceState(cached)
		m.cacheState(key, grace, opts)
		m.recordGraceFallback(ctx)
		m.logAction(ctx, slog.LevelWarn, "resolve", "authority unreachable, entering grace period",
			slog.String("license_key_masked", MaskLicenseKey(key)),
			slog.Time("last_verified_at", cached.LastVerifiedAt()),
			slog.String("error", err.Error()))
		return grace, nil
	}
	return nil, err
}

// ActivateLicense binds a license to this machine through the authority and
// resolves the resulting state. Activation always goes to the network.
func (m *Manager) ActivateLicense(ctx context.Context, licenseKey string) (*EntitlementState, error) {
	start := m.now()
	key := NormalizeLicenseKey(licenseKey)
	if err := ValidateLicenseKeyFormat(key); err != nil {
		return nil, err
	}
	if m.authority == nil {
		return nil, &NetworkError{Op: "activate", Err: fmt.Errorf("no authority client configured")}
	}
	if m.limiter != nil && !m.limiter.Allow() {
		m.recordRateLimitHit(ctx)
		return nil, fmt.Errorf("%w: authority call budget exhausted", ErrRateLimited)
	}

	response, err := m.authority.ActivateLicense(ctx, key, m.machineContext())
	if err != nil {
		m.logOperation(ctx, "activate", start, err)
		return nil, err
	}
	if IsErrorResponse(response) {
		err := m.resolver.ErrorForResponse(response)
		m.logOperation(ctx, "activate", start, err)
		return nil, err
	}

	state, err := m.resolver.ResolveFromActivation(ctx, response, key)
	if err != nil {
		m.recordSignatureFailure(ctx)
		m.logOperation(ctx, "activate", start, err)
		return nil, err
	}

	m.cacheState(key, state, ValidateOptions{})
	m.logOperation(ctx, "activate", start, nil)
	return state, nil
}

// CheckFeature asks the authority about one feature and resolves the
// returned state.
func (m *Manager) CheckFeature(ctx context.Context, licenseKey, feature string) (*EntitlementState, error) {
	key := NormalizeLicenseKey(licenseKey)
	if err := ValidateLicenseKeyFormat(key); err != nil {
		return nil, err
	}
	if m.authority == nil {
		return nil, &NetworkError{Op: "check_feature", Err: fmt.Errorf("no authority client configured")}
	}
	if m.limiter != nil && !m.limiter.Allow() {
		m.recordRateLimitHit(ctx)
		return nil, fmt.Errorf("%w: authority call budget exhausted", ErrRateLimited)
	}

	response, err := m.authority.CheckFeature(ctx, key, feature)
	if err != nil {
		return nil, err
	}
	if IsErrorResponse(response) {
		return nil, m.resolver.ErrorForResponse(response)
	}

	state, err := m.resolver.ResolveFromFeatureCheck(ctx, response, key, feature)
	if err != nil {
		m.recordSignatureFailure(ctx)
		return nil, err
	}
	m.cacheState(key, state, ValidateOptions{})
	return state, nil
}

// GetLicenseState is the fail-secure facade: it never returns an error.
// Any resolution failure yields a restricted state whose gates all answer
// no.
func (m *Manager) GetLicenseState(ctx context.Context, licenseKey string) *LicenseState {
	key := NormalizeLicenseKey(licenseKey)
	state, err := m.ResolveLicenseState(ctx, key, ValidateOptions{})
	if err != nil {
		m.logAction(ctx, slog.LevelWarn, "get_state", "resolution failed, returning restricted state",
			slog.String("license_key_masked", MaskLicenseKey(key)),
			slog.String("error", err.Error()))
		return NewLicenseState(key, m.resolver.CreateRestrictedState(err.Error()))
	}
	return NewLicenseState(key, state)
}

// IsFeatureAllowed reports whether a capability is granted and operation is
// allowed. Every failure mode answers false.
func (m *Manager) IsFeatureAllowed(ctx context.Context, licenseKey, capability string) bool {
	state := m.GetLicenseState(ctx, licenseKey)
	return state.AllowsOperation() && state.HasCapability(capability)
}

// RequireCapability returns a CapabilityError when a capability is not
// usable, nil when it is.
func (m *Manager) RequireCapability(ctx context.Context, licenseKey, capability string) error {
	state := m.GetLicenseState(ctx, licenseKey)
	if !state.AllowsOperation() || !state.HasCapability(capability) {
		return &CapabilityError{Capability: capability, State: state.State()}
	}
	return nil
}

// ClearLicenseState drops every cached state for a key. The offline license
// file is untouched; use RemoveLicenseFile for that.
func (m *Manager) ClearLicenseState(licenseKey string) int {
	return m.store.ClearLicense(NormalizeLicenseKey(licenseKey))
}

// CacheStats exposes the state store statistics.
func (m *Manager) CacheStats() map[string]any {
	return m.store.Stats()
}

// GC sweeps expired cache entries.
func (m *Manager) GC() int {
	return m.store.GC()
}

// MachineIdentity returns the identity this installation binds activations
// to.
func (m *Manager) MachineIdentity() (*security.MachineIdentity, error) {
	return m.fingerprint.Identity()
}

func (m *Manager) machineContext() string {
	identity, err := m.fingerprint.Identity()
	if err != nil {
		return ""
	}
	return identity.Fingerprint
}

func (m *Manager) cacheState(key string, state *EntitlementState, opts ValidateOptions) {
	if opts.NoCache {
		return
	}
	m.store.Set(key, state, opts.TTL)
}
