// Package audit records bus events as immutable audit records and exports
// them for operators.
package audit
