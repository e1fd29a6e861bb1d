// Package mocks provides shared test doubles for interfaces used across
// package boundaries. MockTokenService follows the function-field style:
// each Fn field overrides its method and unset fields fall back to the
// value fields. MockRepository is a testify mock.
package mocks
