package server

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/apex/log"

	"authcache/internal/config"
)

const sessionUserKey = "username"

func newSessionManager(cfg config.Config, store scs.Store) *scs.SessionManager {
	sm := scs.New()
	sm.Store = store
	sm.Lifetime = cfg.SessionLifetime
	sm.Cookie.Name = cfg.CookieName
	sm.Cookie.Path = "/"
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = cfg.CookieSecure
	sm.Cookie.Persist = true
	sm.ErrorFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
		log.WithError(err).Error("session store failure")
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
	return sm
}

// requireSession rejects requests without an authenticated session.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessionUser(r) == "" {
			writeError(w, http.StatusUnauthorized, msgAuthRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sessionUser(r *http.Request) string {
	return s.sessions.GetString(r.Context(), sessionUserKey)
}

// startSession issues a fresh token for username, dropping any token the
// client arrived with.
func (s *Server) startSession(ctx context.Context, username string) error {
	if err := s.sessions.RenewToken(ctx); err != nil {
		return err
	}
	s.sessions.Put(ctx, sessionUserKey, username)
	return nil
}
