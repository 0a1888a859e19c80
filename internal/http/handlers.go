package http

import (
	"net/http"

	"semaphore/auth-core/internal/apperrors"
	"semaphore/auth-core/internal/identity"
	"semaphore/auth-core/internal/model"
)

type loginResponse struct {
	identity.TokenPair
	User model.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, "register", err)
		return
	}
	phone, err := normalizePhone(req.Phone, s.cfg.PhoneRegion)
	if err != nil {
		s.fail(w, r, "register", err)
		return
	}

	user, err := s.accounts.Register(r.Context(), identity.RegisterInput{
		Email:    req.Email,
		Phone:    phone,
		Password: req.Password,
	})
	if err != nil {
		s.fail(w, r, "register", err)
		return
	}
	s.metrics.ObserveAuth("register", "ok")
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, "login", err)
		return
	}
	// Unparseable phones cannot match a stored E.164 value; they fall through
	// to the generic credential failure.
	phone := req.Phone
	if normalized, err := normalizePhone(req.Phone, s.cfg.PhoneRegion); err == nil {
		phone = normalized
	}

	result, err := s.auth.Login(r.Context(), identity.Credentials{
		Email:    req.Email,
		Phone:    phone,
		Password: req.Password,
	})
	if err != nil {
		s.fail(w, r, "login", err)
		return
	}
	s.metrics.ObserveAuth("login", "ok")
	writeJSON(w, http.StatusOK, loginResponse{TokenPair: result.Tokens, User: result.User})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, "refresh", err)
		return
	}
	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, r, "refresh", err)
		return
	}
	s.metrics.ObserveAuth("refresh", "ok")
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), bearerToken(r.Header.Get("Authorization"))); err != nil {
		s.fail(w, r, "logout", err)
		return
	}
	s.metrics.ObserveAuth("logout", "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.CurrentUser(r.Context(), subjectFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, "update_profile", err)
		return
	}
	phone, err := normalizePhone(req.Phone, s.cfg.PhoneRegion)
	if err != nil {
		s.fail(w, r, "update_profile", err)
		return
	}

	user, err := s.accounts.UpdateProfile(r.Context(), subjectFromContext(r.Context()), identity.ProfileInput{
		Email: req.Email,
		Phone: phone,
	})
	if err != nil {
		s.fail(w, r, "update_profile", err)
		return
	}
	s.metrics.ObserveAuth("update_profile", "ok")
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Deactivate(r.Context(), subjectFromContext(r.Context())); err != nil {
		s.fail(w, r, "deactivate", err)
		return
	}
	s.metrics.ObserveAuth("deactivate", "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		s.fail(w, r, "change_password", err)
		return
	}
	err := s.accounts.ChangePassword(r.Context(), subjectFromContext(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		s.fail(w, r, "change_password", err)
		return
	}
	s.metrics.ObserveAuth("change_password", "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	s.metrics.ObserveAuth(operation, string(apperrors.As(err).Code))
	s.writeAppError(w, r, err)
}
