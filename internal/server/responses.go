package server

import (
	"net/http"
	"strconv"

	"pubsrv/internal/errors"
)

// WriteText writes a plain-text response with an explicit length.
func WriteText(w http.ResponseWriter, status int, body string) error {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		return errors.Wrap(errors.HandlerFault, err, "write response")
	}
	return nil
}

// WriteFault writes the generic 500 response. Nothing about err reaches
// the client.
func WriteFault(w http.ResponseWriter) {
	// Headers a partial static response may have set no longer apply.
	h := w.Header()
	for _, k := range []string{"Content-Encoding", "Content-Range", "Last-Modified", "Accept-Ranges", "Etag"} {
		h.Del(k)
	}
	_ = WriteText(w, errors.StatusFor(errors.HandlerFault), errors.PublicBody(errors.HandlerFault))
}
