// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth provides the authentication core for Gatehouse.
//
// # Domain Types
//
// Domain types (User, Session) should be created using their respective
// constructors:
//   - NewUser - creates a User with a validated username and password hash
//   - NewSession - creates an anonymous Session with a validated token hash
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// The Service type coordinates domain operations: sign-up, login, session
// resolution, and logout. The Gate type decides whether a session may reach
// a protected resource.
//
// Sessions hold only the owning user's ID, never the user record itself;
// CurrentUser rehydrates the record from the credential store on demand.
package auth
