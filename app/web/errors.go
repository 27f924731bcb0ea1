package web

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"
)

// genericErrors maps router-level failures to client messages
var genericErrors = map[int]string{
	http.StatusForbidden:             "Forbidden",
	http.StatusNotFound:              "Resource not found",
	http.StatusMethodNotAllowed:      "Method not allowed",
	http.StatusRequestEntityTooLarge: "Request body too large",
	http.StatusInternalServerError:   "Internal server error",
}

// errorResponse is the json envelope for all failures
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// jsonErrors replaces non-json 403, 404, 405, 413 and 500 responses (mux defaults, size limit, recovered panics)
// with the json error envelope. Responses already written as json by handlers pass through untouched.
func jsonErrors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&errorWriter{ResponseWriter: w, req: r}, r)
	})
}

// errorWriter intercepts WriteHeader to swap the body of known error statuses
type errorWriter struct {
	http.ResponseWriter
	req         *http.Request
	wroteHeader bool
	replaced    bool
}

func (e *errorWriter) WriteHeader(code int) {
	if e.wroteHeader {
		return
	}
	e.wroteHeader = true

	msg, known := genericErrors[code]
	if !known || isJSON(e.Header().Get("Content-Type")) {
		e.ResponseWriter.WriteHeader(code)
		return
	}

	if code == http.StatusInternalServerError {
		log.Printf("[ERROR] internal server error on %s %s", e.req.Method, e.req.URL.Path)
	}
	e.replaced = true
	e.Header().Del("Content-Length")
	e.Header().Set("Content-Type", "application/json")
	e.ResponseWriter.WriteHeader(code)
	if err := json.NewEncoder(e.ResponseWriter).Encode(errorResponse{Error: msg}); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}

func (e *errorWriter) Write(b []byte) (int, error) {
	if !e.wroteHeader {
		e.WriteHeader(http.StatusOK)
	}
	if e.replaced {
		return len(b), nil // original body dropped, json envelope already written
	}
	return e.ResponseWriter.Write(b)
}

// Unwrap allows http.ResponseController to reach the underlying writer
func (e *errorWriter) Unwrap() http.ResponseWriter {
	return e.ResponseWriter
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// isJSON checks if content type is application/json or any application/*+json
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if mt == "application/json" {
		return true
	}
	return strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json")
}
