// Package runtime provides environment/runtime detection helpers shared across the service layer.
package runtime

import (
	"os"
	"strings"
	"sync"
)

// strictIdentityModeOnce caches the strict identity mode check at startup.
var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when the service should fail closed on identity/security
// boundaries (e.g. only trust identity headers protected by verified mTLS).
//
// A configured client-certificate trio is also treated as strict, so a
// mis-set environment cannot silently weaken trust boundaries on a
// deployment that has mTLS wired up but forgot to flip the environment
// to production.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		hasClientTLS := strings.TrimSpace(os.Getenv("TLS_CLIENT_CERT")) != "" &&
			strings.TrimSpace(os.Getenv("TLS_CLIENT_KEY")) != "" &&
			strings.TrimSpace(os.Getenv("TLS_CLIENT_ROOT_CA")) != ""
		strictIdentityModeValue = env == Production || hasClientTLS
	})
	return strictIdentityModeValue
}
