// Package auth0 provides an Auth0 backed onboarding.IdentityDirectory.
//
// Identities are created in a database connection through the management
// API. Auth0 has no native group hierarchy, so group paths are stored in the
// user app_metadata under "groups" and read through a TTL GroupCache.
package auth0
