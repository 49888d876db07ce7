// Package license implements client-side entitlement resolution: it turns
// signed authority responses and offline license files into typed
// entitlement states that the rest of the application gates on.
//
// # Architecture Overview
//
// The package consists of several components:
//
//	- SignatureVerifier: RSA-SHA256 verification over canonical JSON
//	- EntitlementState: immutable snapshot with derived status and capabilities
//	- StateResolver: raw response envelopes to states, plus the error code table
//	- StateStore: signed in-memory cache, re-verified on every read
//	- Offline parsing: chunked RSA public-decrypt of .lic files
//	- Manager: orchestration, offline first, then the authority, with grace fallback
//	- LicenseState: the read-only facade handed to feature gates
//
// # Resolution Flow
//
//	1. Check the offline license file for the key, verify and honor its check policy
//	2. Consult the state cache; a fresh verified entry short-circuits
//	3. Call the validation authority, rate limited and deduplicated
//	4. On network failure fall back to a grace state when the last
//	   verified state still allows operation
//	5. Every other failure resolves to a restricted state
//
// States degrade, they never silently upgrade: a verification failure or an
// unreachable authority can only move a license toward restricted.
//
// # Security Model
//
// All trust derives from the embedded RSA public key. Authority responses
// carry a detached signature over the canonical JSON form of the payload;
// cached states are re-verified on every read and additionally protected by
// a per-installation HMAC. Activations bind to a hardware fingerprint so a
// license file copied to another machine fails closed.
package license
