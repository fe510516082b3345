// Package onboarding verifies and onboards users whose identity lives in an
// external identity directory (Keycloak, Auth0, ...) while local tables
// track onboarding progress, staged registrations and verification proofs.
//
// Verification tokens:
//   - TokenService issues one live token per (email, type). Tokens are looked
//     up by the (token, email) pair and are never consumed by validation; the
//     Orchestrator retires them only once every side effect of the flow
//     succeeded, so a failed verification can be retried with the same link.
//   - Issuance is rate limited per email by a CooldownGate. The default gate
//     reads the newest token; provider/redis offers an atomic one.
//
// One-time codes:
//   - OtpService stores bcrypt hashes of six digit codes, one live code per
//     (email, purpose). A wrong code leaves the stored code in place.
//
// Admin invitations:
//   - InvitationService keeps the lobby of admin created identities and moves
//     them through AWAITING_VERIFICATION, AWAITING_PASSWORD_RESET and
//     AWAITING_PROFILE_COMPLETION with a StageMachine. Guarded transitions are
//     conditional updates, so concurrent duplicates advance a row once.
//
// Reconciliation:
//   - The directory is the source of truth for identities. Directory calls run
//     first and local writes follow; a local write failing after the directory
//     accepted a change surfaces as IDENTITY_SYNC_FAILURE, is logged and is
//     published on the ActivitySink. Nothing retries automatically.
//
// Sweeper removes expired tokens, expired codes and orphaned registrations.
package onboarding
