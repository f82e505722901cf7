package server

import (
	"errors"
	"net/http"

	"github.com/apex/log"

	"authcache/internal/users"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.readCredentials(w, r)
	if !ok {
		return
	}

	if _, err := s.users.Register(creds.Username, creds.Password); err != nil {
		if errors.Is(err, users.ErrExists) {
			s.metrics.RecordAuth("register", "conflict")
			writeError(w, http.StatusConflict, msgUserExists)
			return
		}
		s.metrics.RecordAuth("register", "error")
		log.WithError(err).WithField("user", creds.Username).Error("registration failed")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	if err := s.startSession(r.Context(), creds.Username); err != nil {
		log.WithError(err).Error("failed to start session")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	s.metrics.RecordAuth("register", "ok")
	log.WithField("user", creds.Username).Info("user registered")
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.readCredentials(w, r)
	if !ok {
		return
	}

	if err := s.users.Authenticate(creds.Username, creds.Password); err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			s.metrics.RecordAuth("login", "invalid")
			writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		s.metrics.RecordAuth("login", "error")
		log.WithError(err).WithField("user", creds.Username).Error("login failed")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	if err := s.startSession(r.Context(), creds.Username); err != nil {
		log.WithError(err).Error("failed to start session")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	s.metrics.RecordAuth("login", "ok")
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

// readCredentials decodes and validates the body, writing a 400 and
// returning false when it is unusable.
func (s *Server) readCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	creds, err := decodeCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return credentials{}, false
	}
	if creds.Username == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, msgCredentialsMissing)
		return credentials{}, false
	}
	return creds, true
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	username := s.sessionUser(r)
	if username == "" {
		writeJSON(w, http.StatusOK, checkAuthResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, checkAuthResponse{Authenticated: true, User: &authUser{Username: username}})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.Context()); err != nil {
		log.WithError(err).Error("failed to destroy session")
		writeError(w, http.StatusInternalServerError, msgLogoutFailed)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	res, err := s.data.Get(r.Context())
	if err != nil {
		s.metrics.DataErrors.Inc()
		log.WithError(err).WithField("user", s.sessionUser(r)).Error("failed to get data")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{
		Success:   true,
		Data:      res.Payload,
		Timestamp: res.Timestamp,
		FromCache: res.FromCache,
	})
}
