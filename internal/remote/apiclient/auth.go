package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/bulkmutate/internal/tokenfile"
)

// ErrNotLoggedIn is returned when no token file exists at the configured path.
var ErrNotLoggedIn = errors.New("apiclient: not logged in")

// OAuthSettings identifies the OAuth2 client used to refresh saved tokens.
type OAuthSettings struct {
	TokenPath string
	TokenURL  string
	ClientID  string
}

// TokenSourceFromPath loads a saved token and returns a TokenSource that
// refreshes it silently and writes refreshed tokens back to disk.
//
// ctx must outlive the TokenSource; refreshes use it for their HTTP calls.
func TokenSourceFromPath(ctx context.Context, settings OAuthSettings, logger *slog.Logger) (TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tok, meta, err := tokenfile.Load(settings.TokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, fmt.Errorf("%w: no token at %s", ErrNotLoggedIn, settings.TokenPath)
	}

	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", settings.TokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	cfg := &oauth2.Config{
		ClientID: settings.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: settings.TokenURL},
	}

	src := &persistingSource{
		src:    cfg.TokenSource(ctx, tok),
		path:   settings.TokenPath,
		meta:   meta,
		last:   tok.AccessToken,
		logger: logger,
	}

	return &tokenBridge{src: src, logger: logger}, nil
}

// persistingSource saves the token whenever the wrapped source hands out a
// new access token.
type persistingSource struct {
	src    oauth2.TokenSource
	path   string
	meta   map[string]string
	logger *slog.Logger

	mu   gosync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken == p.last {
		return tok, nil
	}

	p.last = tok.AccessToken

	if err := tokenfile.Save(p.path, tok, p.meta); err != nil {
		p.logger.Warn("failed to persist refreshed token",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)

		return tok, nil
	}

	p.logger.Info("persisted refreshed token",
		slog.String("path", p.path),
		slog.Time("new_expiry", tok.Expiry),
	)

	return tok, nil
}

// tokenBridge adapts oauth2.TokenSource to TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("apiclient: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired",
		slog.Time("expiry", t.Expiry),
		slog.Bool("valid", t.Valid()),
	)

	return t.AccessToken, nil
}

// StaticToken is a TokenSource returning a fixed bearer token.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token() (string, error) {
	return string(s), nil
}
