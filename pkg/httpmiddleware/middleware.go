// Package httpmiddleware contains the net/http middleware shared by the
// services: panic recovery, request ids, per-request loggers and access logs.
package httpmiddleware

import "net/http"

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
