package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/inkwell-hq/inkwell-core/internal/authz"
	"github.com/inkwell-hq/inkwell-core/internal/chat"
	"github.com/inkwell-hq/inkwell-core/internal/folder"
	"github.com/inkwell-hq/inkwell-core/internal/httpapi"
	"github.com/inkwell-hq/inkwell-core/internal/identity"
	"github.com/inkwell-hq/inkwell-core/internal/note"
	"github.com/inkwell-hq/inkwell-core/internal/presence"
	"github.com/inkwell-hq/inkwell-core/internal/store"
	"github.com/inkwell-hq/inkwell-core/internal/syncreplay"
	"github.com/inkwell-hq/inkwell-core/internal/task"
	"github.com/inkwell-hq/inkwell-core/internal/tokens"
	"github.com/inkwell-hq/inkwell-core/internal/wsgateway"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "inkwell-core").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	pool, err := store.Open(ctx, pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	jwtSecret := env("JWT_SECRET", "dev-secret-change-in-production")
	isDevMode := env("ENV", "") == "dev"
	if !isDevMode && jwtSecret == "dev-secret-change-in-production" {
		log.Fatal().Msg("FATAL: cannot start in production mode with the default JWT_SECRET; set JWT_SECRET to a secure random value (e.g. openssl rand -base64 32)")
	}
	tokenCfg := tokens.DefaultConfig([]byte(jwtSecret))
	if v, err := strconv.Atoi(env("JWT_ACCESS_TTL_SECONDS", "")); err == nil && v > 0 {
		tokenCfg.AccessTTL = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(env("JWT_REFRESH_TTL_SECONDS", "")); err == nil && v > 0 {
		tokenCfg.RefreshTTL = time.Duration(v) * time.Second
	}
	tokenSvc := tokens.New(tokenCfg)

	folderSvc := folder.New(pool)
	identitySvc := identity.New(pool)
	identitySvc.OnUserCreated = folderSvc.SeedDefaults

	authzEngine := authz.New()
	noteSvc := note.New(pool)
	taskSvc := task.New(pool)
	presenceBroker := presence.New()
	chatSvc := chat.New(pool)

	replaySvc := syncreplay.New(pool, httpapi.ReplayDispatchers(noteSvc, taskSvc, folderSvc, authzEngine))

	if err := ensureBootstrapAdmin(ctx, pool, identitySvc, env("BOOTSTRAP_ADMIN_PASSWORD", "")); err != nil {
		log.Error().Err(err).Msg("failed to ensure bootstrap admin account")
	}

	oauthProviders := map[string]httpapi.OAuthProvider{}
	if id, secret := env("GOOGLE_CLIENT_ID", ""), env("GOOGLE_CLIENT_SECRET", ""); id != "" && secret != "" {
		oauthProviders["google"] = identity.NewGoogleProvider(id, secret, env("GOOGLE_REDIRECT_URL", ""))
	}
	if id, secret := env("GITHUB_CLIENT_ID", ""), env("GITHUB_CLIENT_SECRET", ""); id != "" && secret != "" {
		oauthProviders["github"] = identity.NewGitHubProvider(id, secret, env("GITHUB_REDIRECT_URL", ""))
	}

	srv := &httpapi.Server{
		DB:              pool,
		Tokens:          tokenSvc,
		Authz:           authzEngine,
		Identity:        identitySvc,
		Folder:          folderSvc,
		Note:            noteSvc,
		Task:            taskSvc,
		Chat:            chatSvc,
		Presence:        presenceBroker,
		Replay:          replaySvc,
		OAuthProviders:  oauthProviders,
		RateLimitConfig: httpapi.DefaultRateLimitConfig,
	}

	gateway := &wsgateway.Gateway{
		Tokens:   tokenSvc,
		Identity: identitySvc,
		Presence: presenceBroker,
		Note:     noteSvc,
		Task:     taskSvc,
		Folder:   folderSvc,
		Chat:     chatSvc,
	}

	mux := http.NewServeMux()
	mux.Handle("/", srv.Routes())
	mux.Handle("/ws", gateway)

	httpAddr := env("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}

// ensureBootstrapAdmin creates the canonical "admin" account on first boot
// if it does not already exist, promoting it to admin. If password is
// empty a random one is generated and logged once, since there is no
// other channel to deliver it on a fresh deployment.
func ensureBootstrapAdmin(ctx context.Context, pool *pgxpool.Pool, svc *identity.Service, password string) error {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT true FROM users WHERE username_lower = $1`, strings.ToLower(identity.BootstrapAdminUsername)).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != pgx.ErrNoRows {
		return err
	}

	if password == "" {
		generated, genErr := randomPassword(24)
		if genErr != nil {
			return genErr
		}
		password = generated
		log.Warn().Str("username", identity.BootstrapAdminUsername).Str("password", password).
			Msg("generated bootstrap admin credentials; rotate this password immediately")
	}

	admin, err := svc.Register(ctx, identity.BootstrapAdminUsername, password, nil)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `UPDATE users SET is_admin = true WHERE id = $1`, admin.ID); err != nil {
		return err
	}
	log.Info().Str("username", identity.BootstrapAdminUsername).Msg("bootstrap admin account created")
	return nil
}

func randomPassword(n int) (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
	out := make([]byte, n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
