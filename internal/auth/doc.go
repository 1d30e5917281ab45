// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package auth provides account authentication for the storefront.
//
// # Domain Types
//
// A User is created with NewUser, which assigns an ID and requires an already
// computed password hash. Passwords are hashed exactly once, by Service,
// before they reach a UserRepository. Repositories never hash.
//
// UserSummary is the only view of a user that leaves the package boundary.
//
// # Services
//
// Service coordinates the account lifecycle:
//   - Register and Login issue stateless session tokens (TokenIssuer)
//   - RequestPasswordReset, ValidateResetToken and ConfirmPasswordReset
//     drive the single-use reset challenge (ResetManager)
//   - Authenticate and RequireAdmin back the HTTP authorization middleware
//
// Errors returned by Service carry a Kind as their oops code. Use KindOf to
// classify them.
package auth
