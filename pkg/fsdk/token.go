package fsdk

import (
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "flock"

// normalizeKey converts a baseURL into a stable key name for keyring
// storage. Trailing slashes are trimmed and the string lowercased so
// https://example.com/ and https://example.com share one entry.
func normalizeKey(baseURL string) string {
	s := strings.TrimSpace(baseURL)
	s = strings.TrimRight(s, "/")
	s = strings.ToLower(s)
	return s
}

// SaveToken stores the session token in the OS keyring under the
// normalized baseURL key.
func SaveToken(baseURL string, token string) error {
	return keyring.Set(keyringService, normalizeKey(baseURL), token)
}

// LoadToken retrieves the token stored for the given baseURL. If no token
// is found the underlying keyring error is returned.
func LoadToken(baseURL string) (string, error) {
	return keyring.Get(keyringService, normalizeKey(baseURL))
}

// DeleteToken removes the token entry for the given baseURL. Convenience
// for logout flows.
func DeleteToken(baseURL string) error {
	return keyring.Delete(keyringService, normalizeKey(baseURL))
}
