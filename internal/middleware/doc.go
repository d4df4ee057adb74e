// Package middleware holds the HTTP middleware chain of the API server:
// request ids, structured request logging, tracing, rate limiting and
// request body validation.
package middleware
