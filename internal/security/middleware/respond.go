package middleware

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeErrorRedirect(w, status, message, code, "")
}

func writeErrorRedirect(w http.ResponseWriter, status int, message, code, redirect string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Message:  message,
		Code:     code,
		Redirect: redirect,
	})
}
