package httpapi

import (
	"net/http"

	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/identity"
)

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !caller(r).IsAdmin {
		writeAppErr(w, r, apperr.New(apperr.Forbidden, "admin required"))
		return false
	}
	return true
}

// loadTarget resolves the :id path param to the admin-op target user,
// writing an error response and returning ok=false on any failure.
func (s *Server) loadTarget(w http.ResponseWriter, r *http.Request) (target *identity.User, ok bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAppErr(w, r, err)
		return nil, false
	}
	target, err = s.Identity.GetByID(r.Context(), id)
	if err != nil {
		writeAppErr(w, r, err)
		return nil, false
	}
	return target, true
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 50, 500)
	users, err := s.Identity.SearchUsers(r.Context(), q.Get("q"), limit)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	dtos := make([]userDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	writeData(w, r, http.StatusOK, dtos)
}

func (s *Server) LockUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	if err := s.Identity.Lock(r.Context(), caller(r), target); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "user locked")
}

func (s *Server) UnlockUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	if err := s.Identity.Unlock(r.Context(), caller(r), target); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "user unlocked")
}

func (s *Server) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	if err := s.Identity.GrantAdmin(r.Context(), caller(r), target); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "admin granted")
}

func (s *Server) RevokeAdmin(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	if err := s.Identity.RevokeAdmin(r.Context(), caller(r), target); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "admin revoked")
}

// DisableUser2FA is admin-gated here since identity.Service.Disable2FA
// itself performs no caller authz check (it also serves the self-service
// settings flow, which has no admin concept).
func (s *Server) DisableUser2FA(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	if err := s.Identity.Disable2FA(r.Context(), target); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "2fa disabled")
}

func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	target, ok := s.loadTarget(w, r)
	if !ok {
		return
	}
	if err := s.Identity.DeleteUser(r.Context(), caller(r), target); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "user deleted")
}
