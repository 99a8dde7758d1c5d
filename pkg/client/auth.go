package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrNoExpiry is returned by TokenExpiry for tokens without an exp claim.
var ErrNoExpiry = errors.New("token has no expiry")

// TokenFile holds a saved authentication token.
type TokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Server    string    `json:"server"`
	Username  string    `json:"username"`
}

// IsExpired returns true if the token has expired (with optional margin).
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// TokenExpiry reads the exp claim of a JWT. The signature is not checked;
// the server does that, the client only needs to know when to refresh.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// NewTokenFile builds a token file for server, deriving the expiry from the token.
func NewTokenFile(token, server, username string) (*TokenFile, error) {
	exp, err := TokenExpiry(token)
	if err != nil {
		return nil, err
	}
	return &TokenFile{Token: token, ExpiresAt: exp, Server: server, Username: username}, nil
}

// LoginResponse is the response from POST /api/v1/auth/token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login authenticates with username/password and installs the returned token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", body, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.SetAuthToken(resp.Token)
	return &resp, nil
}

// RefreshToken exchanges the current bearer token for a new one.
func (c *Client) RefreshToken(ctx context.Context) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", nil, &resp); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	c.SetAuthToken(resp.Token)
	return &resp, nil
}

// StartTokenRefreshLoop refreshes tf shortly before it expires and saves it to path.
func (c *Client) StartTokenRefreshLoop(ctx context.Context, tf *TokenFile, path string) {
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !tf.IsExpired(time.Hour) {
				continue
			}
			resp, err := c.RefreshToken(ctx)
			if err != nil {
				c.logger.Error("token refresh failed", zap.Error(err))
				continue
			}
			tf.Token = resp.Token
			tf.ExpiresAt = resp.ExpiresAt
			if err := SaveToken(path, tf); err != nil {
				c.logger.Error("save refreshed token", zap.Error(err))
				continue
			}
			c.logger.Info("token refreshed", zap.Time("expires_at", tf.ExpiresAt))
		}
	}()
}

// TokenFilePath returns the default path for the token file.
func TokenFilePath() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Navigator", "token.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "navigator", "token.json")
}

// SaveToken writes tf to path, readable only by the owner.
func SaveToken(path string, tf *TokenFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken reads a token file from path.
func LoadToken(path string) (*TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tf, nil
}

// DeleteToken removes the token file at path.
func DeleteToken(path string) error {
	return os.Remove(path)
}
