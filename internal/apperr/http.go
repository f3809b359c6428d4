package apperr

import (
	"encoding/json"
	"net/http"
)

// Body is the JSON error envelope returned by every handler.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err through the taxonomy and writes the envelope.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, HTTPStatus(err), Body{Error: Code(err), Message: Message(err)})
}

// WriteStatus writes an envelope for failures outside the taxonomy, such as
// a malformed payload or a missing token.
func WriteStatus(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Body{Error: code, Message: message})
}
