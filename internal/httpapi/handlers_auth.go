package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/identity"
	"github.com/inkwell-hq/inkwell-core/internal/tokens"
)

type userDTO struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	IsAdmin      bool   `json:"isAdmin"`
	Is2FAEnabled bool   `json:"is2faEnabled"`
}

func toUserDTO(u *identity.User) userDTO {
	dto := userDTO{ID: u.ID.String(), Username: u.Username, IsAdmin: u.IsAdmin, Is2FAEnabled: u.Is2FAEnabled}
	if u.Email != nil {
		dto.Email = *u.Email
	}
	return dto
}

type tokenPairDTO struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	User         userDTO `json:"user"`
}

// issueTokenPair mints and persists a fresh access/refresh pair for u.
func (s *Server) issueTokenPair(r *http.Request, u *identity.User) (tokenPairDTO, error) {
	access, err := s.Tokens.Mint(u.ID, tokens.Access)
	if err != nil {
		return tokenPairDTO{}, err
	}
	refresh, err := s.Tokens.Mint(u.ID, tokens.Refresh)
	if err != nil {
		return tokenPairDTO{}, err
	}
	if err := s.Identity.MintRefreshToken(r.Context(), u.ID, refresh.Token, refresh.ExpiresAt); err != nil {
		return tokenPairDTO{}, err
	}
	return tokenPairDTO{AccessToken: access.Token, RefreshToken: refresh.Token, User: toUserDTO(u)}, nil
}

type registerReq struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Email    *string `json:"email"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	u, err := s.Identity.Register(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}

	pair, err := s.issueTokenPair(r, u)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, pair)
}

type loginReq struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type loginResp struct {
	Need2FA bool    `json:"need2fa"`
	UserID  string  `json:"userId,omitempty"`
	tokenPairDTO
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	u, need2FA, err := s.Identity.Authenticate(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if need2FA {
		writeData(w, r, http.StatusOK, loginResp{Need2FA: true, UserID: u.ID.String()})
		return
	}

	pair, err := s.issueTokenPair(r, u)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, loginResp{tokenPairDTO: pair})
}

type verify2FAReq struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

func (s *Server) Verify2FA(w http.ResponseWriter, r *http.Request) {
	var req verify2FAReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "userId", Message: "invalid uuid"}))
		return
	}

	u, err := s.Identity.GetByID(r.Context(), userID)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if err := s.Identity.Verify2FA(r.Context(), u, req.Code); err != nil {
		writeAppErr(w, r, err)
		return
	}

	pair, err := s.issueTokenPair(r, u)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, pair)
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	verified, err := s.Tokens.Verify(req.RefreshToken, tokens.Refresh)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	ok, err := s.Identity.CheckRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.Unauthorized, "refresh token has been revoked"))
		return
	}

	u, err := s.Identity.GetByID(r.Context(), verified.UserID)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	if u.IsLocked {
		writeAppErr(w, r, apperr.New(apperr.Forbidden, "account is locked"))
		return
	}

	if err := s.Identity.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
		writeAppErr(w, r, err)
		return
	}
	pair, err := s.issueTokenPair(r, u)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, pair)
}

func (s *Server) ValidateToken(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, toUserDTO(caller(r)))
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		if err := s.Identity.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
			writeAppErr(w, r, err)
			return
		}
	} else if err := s.Identity.RevokeAllRefreshTokens(r.Context(), caller(r).ID); err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "logged out")
}

// OAuthAuthorize returns the provider's authorize URL together with its
// state value, a short-lived, unsigned redirect-correlation id; the
// component design does not require signed state since the provider round
// trip happens entirely server-side in this API.
func (s *Server) OAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.OAuthProviders[chi.URLParam(r, "provider")]
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.NotFound, "unknown oauth provider"))
		return
	}
	state := uuid.New().String()
	writeData(w, r, http.StatusOK, map[string]string{"url": provider.AuthorizeURL(state), "state": state})
}

type oauthCallbackReq struct {
	Code string `json:"code"`
}

func (s *Server) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	provider, ok := s.OAuthProviders[providerName]
	if !ok {
		writeAppErr(w, r, apperr.New(apperr.NotFound, "unknown oauth provider"))
		return
	}

	var req oauthCallbackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppErr(w, r, apperr.Validation(apperr.FieldError{Field: "body", Message: "invalid json"}))
		return
	}

	tok, err := provider.Exchange(r.Context(), req.Code)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	profile, err := provider.FetchProfile(r.Context(), tok)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}

	u, err := s.Identity.LinkOAuth(r.Context(), providerName, profile)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	pair, err := s.issueTokenPair(r, u)
	if err != nil {
		writeAppErr(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, pair)
}
