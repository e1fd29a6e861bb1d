// Package api is the HTTP surface: the authenticated notification stream,
// operator status and re-probe endpoints, and a thin task API over the
// repository. Handlers translate HTTP to repository calls and map errors
// to status codes without leaking internals.
package api
