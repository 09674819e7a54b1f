package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"golang.org/x/oauth2"
)

// oauthProvider is the narrow surface LinkOAuth needs from a concrete
// provider driver: build the redirect URL, exchange a code for a token,
// and fetch just enough profile data to provision or match an account.
type oauthProvider interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, tok *oauth2.Token) (OAuthProfile, error)
}

// GoogleProvider drives the Google OIDC userinfo endpoint.
type GoogleProvider struct {
	cfg *oauth2.Config
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}}
}

func (p *GoogleProvider) AuthorizeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.New(apperr.Unauthorized, "oauth code exchange failed")
	}
	return tok, nil
}

func (p *GoogleProvider) FetchProfile(ctx context.Context, tok *oauth2.Token) (OAuthProfile, error) {
	var out struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := fetchJSON(ctx, p.cfg.Client(ctx, tok), "https://openidconnect.googleapis.com/v1/userinfo", &out); err != nil {
		return OAuthProfile{}, err
	}
	return OAuthProfile{ProviderUserID: out.Sub, Email: out.Email, DisplayName: out.Name}, nil
}

// GitHubProvider drives the GitHub REST user endpoint.
type GitHubProvider struct {
	cfg *oauth2.Config
}

func NewGitHubProvider(clientID, clientSecret, redirectURL string) *GitHubProvider {
	return &GitHubProvider{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"read:user", "user:email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
	}}
}

func (p *GitHubProvider) AuthorizeURL(state string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.New(apperr.Unauthorized, "oauth code exchange failed")
	}
	return tok, nil
}

func (p *GitHubProvider) FetchProfile(ctx context.Context, tok *oauth2.Token) (OAuthProfile, error) {
	var out struct {
		ID    int    `json:"id"`
		Login string `json:"login"`
		Email string `json:"email"`
	}
	if err := fetchJSON(ctx, p.cfg.Client(ctx, tok), "https://api.github.com/user", &out); err != nil {
		return OAuthProfile{}, err
	}
	return OAuthProfile{
		ProviderUserID: fmt.Sprintf("%d", out.ID),
		Email:          out.Email,
		DisplayName:    out.Login,
	}, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperr.New(apperr.Internal, "failed to build profile request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return apperr.New(apperr.Internal, "failed to fetch oauth profile")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.Unauthorized, "oauth profile fetch rejected")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.Internal, "failed to read oauth profile")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.New(apperr.Internal, "failed to decode oauth profile")
	}
	return nil
}
