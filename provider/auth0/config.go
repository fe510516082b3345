package auth0

import (
	"fmt"
	"strings"
	"time"
)

// DefaultConnection is the Auth0 database connection identities are created in.
const DefaultConnection = "Username-Password-Authentication"

// Config holds the Auth0 management API settings.
type Config struct {
	// Domain is the Auth0 tenant domain (e.g., "example.us.auth0.com").
	Domain string

	// ClientID is the M2M application client ID.
	ClientID string

	// ClientSecret is the M2M application client secret.
	ClientSecret string

	// Connection is the database connection new identities are created in.
	// Default: DefaultConnection.
	Connection string

	// GroupCacheTTL is how long group memberships are cached.
	// Default: 5 minutes. Negative disables the cache.
	GroupCacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(domain, clientID, clientSecret string) Config {
	return Config{
		Domain:        domain,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Connection:    DefaultConnection,
		GroupCacheTTL: 5 * time.Minute,
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Domain) == "" {
		return fmt.Errorf("auth0: management domain is required")
	}
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("auth0: client credentials are required")
	}
	return nil
}

func (c Config) connection() string {
	if strings.TrimSpace(c.Connection) == "" {
		return DefaultConnection
	}
	return c.Connection
}

func (c Config) domain() string {
	domain := strings.TrimSpace(c.Domain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimSuffix(domain, "/")
}
