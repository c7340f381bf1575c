// Package auth provides Google OAuth2 authentication for the PO mailbox.
//
// Tokens are stored in the google-auth token.json layout so a token minted
// by other tooling for the same client keeps working.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// DefaultScopes cover reading, labelling and sending mail.
var DefaultScopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
}

// ErrNoToken is returned when no token has been stored for the account.
var ErrNoToken = errors.New("no oauth token stored; run `po gmail auth`")

const expiryLayout = "2006-01-02T15:04:05.999999Z"

// storedToken is the token.json layout.
type storedToken struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	Expiry       string   `json:"expiry"`
}

// Paths locates the client credentials and the stored token.
type Paths struct {
	Credentials string
	TokenDir    string
	Account     string
}

// TokenPath is the token file for the account.
func (p Paths) TokenPath() string {
	name := "token.json"
	if p.Account != "" {
		name = p.Account + ".json"
	}
	return filepath.Join(p.TokenDir, name)
}

// LoadGmailService returns an authenticated Gmail API service.
func LoadGmailService(ctx context.Context, p Paths, log *slog.Logger) (*gmail.Service, error) {
	client, err := getClient(ctx, p, log)
	if err != nil {
		return nil, fmt.Errorf("get oauth client: %w", err)
	}
	return gmail.NewService(ctx, option.WithHTTPClient(client))
}

func getClient(ctx context.Context, p Paths, log *slog.Logger) (*http.Client, error) {
	if log == nil {
		log = slog.Default()
	}
	config, err := LoadOAuthConfig(p.Credentials)
	if err != nil {
		return nil, err
	}

	tokenPath := p.TokenPath()
	token, err := loadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token from %s: %w", tokenPath, err)
	}

	ts := config.TokenSource(ctx, token)
	fresh, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	if fresh.AccessToken != token.AccessToken {
		if err := SaveToken(tokenPath, fresh, config); err != nil {
			log.WarnContext(ctx, "Could not save refreshed token",
				"component", "auth", "path", tokenPath, "err", err)
		}
	}

	return oauth2.NewClient(ctx, ts), nil
}

// LoadOAuthConfig reads credentials.json and returns an OAuth2 config.
func LoadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials from %s: %w", credentialsPath, err)
	}

	config, err := google.ConfigFromJSON(data, DefaultScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return config, nil
}

// AuthURL returns the consent URL for an offline token.
func AuthURL(config *oauth2.Config, state string) string {
	return config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func Exchange(ctx context.Context, config *oauth2.Config, code, tokenPath string) error {
	token, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	return SaveToken(tokenPath, token, config)
}

func loadToken(tokenPath string) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return st.oauth(), nil
}

func (st storedToken) oauth() *oauth2.Token {
	var expiry time.Time
	if st.Expiry != "" {
		for _, layout := range []string{expiryLayout, time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, st.Expiry); err == nil {
				expiry = t
				break
			}
		}
	}
	return &oauth2.Token{
		AccessToken:  st.Token,
		RefreshToken: st.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
}

// SaveToken writes token to tokenPath with owner-only permissions.
func SaveToken(tokenPath string, token *oauth2.Token, config *oauth2.Config) error {
	st := storedToken{
		Token:        token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenURI:     config.Endpoint.TokenURL,
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Scopes:       config.Scopes,
	}
	if !token.Expiry.IsZero() {
		st.Expiry = token.Expiry.UTC().Format(expiryLayout)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(tokenPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(tokenPath, data, 0o600)
}
