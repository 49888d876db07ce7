// Package security provides the machine identity used to bind license
// activations to a specific installation.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// MachineIdentity captures the stable hardware factors an activation is
// bound to. Fingerprint is the SHA-256 digest of the combined factors.
type MachineIdentity struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintProvider computes and caches the machine identity. Hardware
// enumeration is cheap but not free, and the identity does not change while
// the process runs.
type FingerprintProvider struct {
	mu          sync.RWMutex
	cached      *MachineIdentity
	cacheExpiry time.Time
	cacheFor    time.Duration
}

// NewFingerprintProvider creates a provider with a one hour identity cache.
func NewFingerprintProvider() *FingerprintProvider {
	return &FingerprintProvider{cacheFor: time.Hour}
}

// Identity returns the machine identity, computing it on first use.
func (p *FingerprintProvider) Identity() (*MachineIdentity, error) {
	p.mu.RLock()
	if p.cached != nil && time.Now().Before(p.cacheExpiry) {
		cached := *p.cached
		p.mu.RUnlock()
		return &cached, nil
	}
	p.mu.RUnlock()

	hostname, err := hostname()
	if err != nil {
		hostname = "unknown-host"
		slog.Warn("failed to get hostname, using fallback", slog.String("error", err.Error()))
	}

	mac, err := primaryMACAddress()
	if err != nil {
		mac = "unknown-mac"
		slog.Warn("failed to get MAC address, using fallback", slog.String("error", err.Error()))
	}

	factors := strings.Join([]string{mac, hostname, runtime.GOOS, runtime.GOARCH}, "|")
	sum := sha256.Sum256([]byte(factors))

	identity := &MachineIdentity{
		Fingerprint: hex.EncodeToString(sum[:]),
		Hostname:    hostname,
		MACAddress:  mac,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	p.mu.Lock()
	p.cached = identity
	p.cacheExpiry = time.Now().Add(p.cacheFor)
	p.mu.Unlock()

	return identity, nil
}

// Matches reports whether the current machine matches a stored fingerprint.
func (p *FingerprintProvider) Matches(storedFingerprint string) (bool, error) {
	current, err := p.Identity()
	if err != nil {
		return false, fmt.Errorf("failed to compute machine identity: %w", err)
	}
	return current.Fingerprint == storedFingerprint, nil
}

// Components returns the individual identity factors for diagnostics.
func (p *FingerprintProvider) Components() map[string]string {
	host, _ := hostname()
	mac, _ := primaryMACAddress()
	return map[string]string{
		"hostname":    host,
		"mac_address": mac,
		"os":          runtime.GOOS,
		"platform":    runtime.GOARCH,
	}
}

func hostname() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return host, nil
}

// primaryMACAddress picks the first up, non-loopback interface with a real
// hardware address, falling back to any interface that has one.
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", fmt.Errorf("no usable MAC address found")
}
