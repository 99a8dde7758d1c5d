package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	tok := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})

	got, err := TokenExpiry(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("expected %s, got %s", exp, got)
	}
}

func TestTokenExpiry_Missing(t *testing.T) {
	tok := signedToken(t, jwt.RegisteredClaims{Subject: "alice"})
	if _, err := TokenExpiry(tok); !errors.Is(err, ErrNoExpiry) {
		t.Errorf("expected ErrNoExpiry, got %v", err)
	}
	if _, err := TokenExpiry("not-a-jwt"); err == nil {
		t.Error("expected parse error")
	}
}

func TestTokenFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})

	tf, err := NewTokenFile(tok, "http://ws", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SaveToken(path, tf); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadToken(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Token != tok || loaded.Username != "alice" || !loaded.ExpiresAt.Equal(exp) {
		t.Errorf("unexpected token file: %+v", loaded)
	}
	if loaded.IsExpired(0) {
		t.Error("token should not be expired yet")
	}
	if !loaded.IsExpired(2 * time.Hour) {
		t.Error("token should be expired within a 2h margin")
	}
	if err := DeleteToken(path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := LoadToken(path); err == nil {
		t.Error("expected error after delete")
	}
}

func TestLogin_Success(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["username"] != "alice" {
				t.Errorf("expected username alice, got %s", req["username"])
			}
			writeJSON(w, http.StatusOK, LoginResponse{Token: "jwt-token-123", ExpiresAt: time.Now().Add(time.Hour)})
		case "/api/v1/auth/refresh":
			if r.Header.Get("Authorization") != "Bearer jwt-token-123" {
				t.Errorf("refresh sent without the login token")
			}
			writeJSON(w, http.StatusOK, LoginResponse{Token: "jwt-token-456"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	resp, err := c.Login(context.Background(), "alice", "pass123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Token != "jwt-token-123" {
		t.Errorf("expected token jwt-token-123, got %s", resp.Token)
	}
	if _, err := c.RefreshToken(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if c.token() != "jwt-token-456" {
		t.Errorf("expected refreshed token, got %s", c.token())
	}
}

func TestLogin_Failure(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}))
	defer ts.Close()

	if _, err := c.Login(context.Background(), "alice", "wrong"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if c.token() != "" {
		t.Error("token should stay empty after a failed login")
	}
}
