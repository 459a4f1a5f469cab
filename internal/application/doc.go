// Package application wires configuration into a running HTTP server. It
// applies the request policies in a fixed order (base path prefix, cookie
// parsing, CORS, body validation, documentation) and owns the listener, so
// the main package only deals with CLI parsing and process lifecycle.
package application
