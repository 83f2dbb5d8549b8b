package server

import (
	"net/http"

	"pubsrv/internal/errors"
)

// Greeting is the body of GET /.
const Greeting = "Hello word!"

// routes builds the dispatcher. It is deliberately not an http.ServeMux:
// the mux answers non-canonical paths such as "/../etc/passwd" with a
// redirect, and those must reach the static lookup and end in a 404.
func (s *Server) routes() http.Handler {
	return s.handle(s.dispatch)
}

// dispatch tries, in order: a static file, the root greeting, the 404
// fallback.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) error {
	served, err := s.static.Serve(w, r)
	if err != nil {
		return err
	}
	if served {
		return nil
	}

	if r.URL.Path == "/" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		return s.handleRoot(w, r)
	}
	return s.handleNotFound(w, r)
}

// handleRoot handles GET / with the fixed greeting
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) error {
	return WriteText(w, http.StatusOK, Greeting)
}

// handleNotFound handles everything nothing else matched
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) error {
	return WriteText(w, errors.StatusFor(errors.NotFound), errors.PublicBody(errors.NotFound))
}
