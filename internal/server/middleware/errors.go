package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError sends the same {"error","detail"} body the handlers use.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "detail": detail})
}
