// Package auth verifies the HS256 bearer tokens that identify task owners.
// Tokens are issued by an external identity service sharing the signing
// secret; GenerateToken exists for operator tooling and tests.
package auth
