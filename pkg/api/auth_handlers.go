package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spideyz0r/clipdav/pkg/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.gate.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.logger.Warn("login rejected", "username", req.Username, "remote", r.RemoteAddr)
		writeDetail(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.gate.SetCookie(w, sess)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Login successful"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.CookieName); err == nil {
		if err := s.gate.Logout(r.Context(), c.Value); err != nil {
			s.logger.Warn("failed to delete session", "error", err)
		}
	}

	s.gate.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	user, err := s.gate.Authenticate(r)
	if err != nil {
		if !errors.Is(err, auth.ErrNoSession) {
			s.logger.Error("authentication failed", "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "username": user})
}
