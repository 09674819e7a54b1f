package httpapi

import "net/http"

// SearchUsers backs the share/chat "add participant" typeahead; the service
// enforces a minimum query length.
func (s *Server) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 20, 50)
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
