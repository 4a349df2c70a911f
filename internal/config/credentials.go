package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/withobsrvr/streamctl/internal/utils/logger"
	"go.uber.org/zap"
)

// TokenSource returns the credential provider described by the auth
// settings, or nil when the control plane is unauthenticated. The token is
// opaque to the rest of streamctl.
func (a AuthSettings) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	switch {
	case a.Token != "":
		logger.Debug("Using static bearer token")
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.Token, TokenType: "Bearer"}), nil

	case a.TokenFile != "":
		logger.Debug("Using bearer token file", zap.String("path", a.TokenFile))
		src := &fileTokenSource{path: a.TokenFile}
		if _, err := src.Token(); err != nil {
			return nil, err
		}
		return src, nil

	case a.ClientID != "":
		logger.Debug("Using OAuth2 client credentials",
			zap.String("client_id", a.ClientID),
			zap.String("token_url", a.TokenURL),
			zap.Strings("scopes", a.Scopes))
		cc := clientcredentials.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			TokenURL:     a.TokenURL,
			Scopes:       a.Scopes,
		}
		return oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx)), nil
	}
	return nil, nil
}

// fileTokenSource re-reads the token file on every call so an external
// refresher can rotate it while a long reconcile is running.
type fileTokenSource struct {
	path string
}

func (f *fileTokenSource) Token() (*oauth2.Token, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return nil, fmt.Errorf("token file %s is empty", f.path)
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
