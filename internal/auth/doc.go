// Package auth provides optional authentication for the bridge HTTP API.
//
// Operators are declared in the service configuration with an Argon2id
// password hash and one of three roles:
//   - viewer reads devices, commands, history and the event stream
//   - operator also sends device commands
//   - admin also reselects interfaces and forgets discovered addresses
//
// A successful login returns a short-lived HS256 JWT. Tokens are validated
// by signature alone; there is no session store and no refresh token.
package auth
