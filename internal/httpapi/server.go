// Package httpapi is the REST and WebSocket wire surface: request
// authentication, routing, and the v1/legacy response envelopes.
package httpapi

import (
	"context"

	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/authz"
	"github.com/inkwell-hq/inkwell-core/internal/chat"
	"github.com/inkwell-hq/inkwell-core/internal/folder"
	"github.com/inkwell-hq/inkwell-core/internal/identity"
	"github.com/inkwell-hq/inkwell-core/internal/note"
	"github.com/inkwell-hq/inkwell-core/internal/presence"
	"github.com/inkwell-hq/inkwell-core/internal/syncreplay"
	"github.com/inkwell-hq/inkwell-core/internal/task"
	"github.com/inkwell-hq/inkwell-core/internal/tokens"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

var rateLimitedErr = apperr.New(apperr.RateLimited, "rate limit exceeded, please retry later")

// OAuthProvider is the surface a concrete provider driver exposes to the
// auth handlers; identity.GoogleProvider and identity.GitHubProvider both
// satisfy it.
type OAuthProvider interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, tok *oauth2.Token) (identity.OAuthProfile, error)
}

// Server holds every dependency the HTTP handlers need.
type Server struct {
	DB       *pgxpool.Pool
	Tokens   *tokens.Service
	Authz    *authz.Engine
	Identity *identity.Service
	Folder   *folder.Service
	Note     *note.Service
	Task     *task.Service
	Chat     *chat.Service
	Presence *presence.Broker
	Replay   *syncreplay.Service

	OAuthProviders map[string]OAuthProvider

	RateLimitConfig RateLimitConfig
}
