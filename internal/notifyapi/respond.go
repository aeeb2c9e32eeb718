package notifyapi

import (
	"encoding/json"
	"net/http"
	"strconv"
)

var okBody = []byte(`{"status":"ok"}`)

func writeOK(w http.ResponseWriter) {
	writeBody(w, http.StatusOK, okBody)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	writeBody(w, status, body)
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Connection", "close")
	w.WriteHeader(status)
	// nothing to do with errors here
	_, _ = w.Write(body)
}
