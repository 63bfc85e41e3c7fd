// Package secrets provides a platform-abstracted interface for secure
// credential storage. On macOS, credentials live in the system Keychain.
// On other platforms a no-op fallback is used and callers keep tokens in
// memory only.
package secrets

import "errors"

// Service name used for Caravel credentials in the system keychain.
const ServiceName = "Caravel"

// Account names for different credential types.
const (
	// AccountAccessToken is the account name for the session bearer token.
	AccountAccessToken = "access-token"
)

// ErrNotFound is returned when a credential is not found in the store.
var ErrNotFound = errors.New("credential not found")

// ErrNotSupported is returned when the secret store is not supported on the
// current platform.
var ErrNotSupported = errors.New("secret store not supported on this platform")

// SecretStore provides an interface for secure credential storage.
// Implementations must be safe for concurrent use.
type SecretStore interface {
	// Get retrieves a secret for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Get(service, account string) (string, error)

	// Set stores a secret for the given service and account, replacing any
	// existing value.
	Set(service, account, secret string) error

	// Delete removes a credential for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Delete(service, account string) error

	// IsSupported reports whether this store is functional on the current
	// platform.
	IsSupported() bool
}

// store is the package-level secret store, set by the platform-specific
// init function.
var store SecretStore

// Default returns the SecretStore for the current platform. It always
// returns a valid store; on unsupported platforms every operation returns
// ErrNotSupported.
func Default() SecretStore {
	if store == nil {
		store = &NoopStore{}
	}
	return store
}

// IsSupported reports whether secure credential storage is available.
func IsSupported() bool {
	return Default().IsSupported()
}

// GetAccessToken retrieves the stored session bearer token.
func GetAccessToken() (string, error) {
	return Default().Get(ServiceName, AccountAccessToken)
}

// SetAccessToken stores the session bearer token.
func SetAccessToken(token string) error {
	return Default().Set(ServiceName, AccountAccessToken, token)
}

// DeleteAccessToken removes the stored session bearer token.
func DeleteAccessToken() error {
	return Default().Delete(ServiceName, AccountAccessToken)
}
