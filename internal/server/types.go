package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

const (
	msgAuthRequired       = "authentication required"
	msgCredentialsMissing = "username and password are required"
	msgInvalidBody        = "invalid request body"
	msgUserExists         = "user already exists"
	msgInvalidCredentials = "invalid credentials"
	msgLogoutFailed       = "logout failed"
	msgInternal           = "internal server error"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type authUser struct {
	Username string `json:"username"`
}

type checkAuthResponse struct {
	Authenticated bool      `json:"authenticated"`
	User          *authUser `json:"user,omitempty"`
}

type dataResponse struct {
	Success   bool   `json:"success"`
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
	FromCache bool   `json:"fromCache"`
}

// decodeCredentials accepts a JSON or form-encoded body. An empty body
// decodes to empty credentials.
func decodeCredentials(r *http.Request) (credentials, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return credentials{}, err
		}
		return credentials{Username: r.PostForm.Get("username"), Password: r.PostForm.Get("password")}, nil
	}

	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return credentials{}, err
	}
	return c, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusResponse{Success: false, Error: msg})
}
