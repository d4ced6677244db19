package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/austindbirch/qrhook/internal/auth"
	"github.com/austindbirch/qrhook/internal/config"
	"github.com/austindbirch/qrhook/internal/logging"
)

const maxTokenTTL = 24 * time.Hour

// tokenServer issues development dashboard tokens and publishes the matching JWKS.
type tokenServer struct {
	issuer     *auth.Issuer
	jwks       auth.JSONWebKeySet
	defaultTTL time.Duration
}

func newTokenServer(key *rsa.PrivateKey, cfg config.Auth) *tokenServer {
	iss := auth.NewIssuer(key, cfg.KeyID, cfg.Issuer, cfg.Audience)
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &tokenServer{issuer: iss, jwks: iss.JWKS(), defaultTTL: ttl}
}

// loadKey parses a PKCS1 or PKCS8 PEM private key, or generates a fresh one when pemKey is empty.
func loadKey(pemKey string) (*rsa.PrivateKey, bool, error) {
	if pemKey == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, false, fmt.Errorf("generate RSA key: %w", err)
		}
		return key, true, nil
	}
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, false, errors.New("failed to decode PEM private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, false, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, false, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, false, errors.New("private key is not RSA")
	}
	return key, false, nil
}

func (s *tokenServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", s.jwksHandler)
	mux.HandleFunc("POST /token", s.createTokenHandler)
	mux.HandleFunc("GET /healthz", healthHandler)
	return mux
}

// jwksHandler serves the JWKS endpoint
func (s *tokenServer) jwksHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(s.jwks)
}

type tokenRequest struct {
	AccountID string `json:"account_id"`
	TTL       int    `json:"ttl_seconds,omitempty"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	TokenType string `json:"token_type"`
}

func (s *tokenServer) createTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	ttl := s.defaultTTL
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Second
	}
	if ttl > maxTokenTTL {
		ttl = maxTokenTTL
	}

	token, err := s.issuer.Issue(req.AccountID, ttl)
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		Token:     token,
		ExpiresIn: int(ttl / time.Second),
		TokenType: "Bearer",
	})
}

// healthHandler provides a simple health check endpoint
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func main() {
	logger := logging.New("qrhook-jwks-server")
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Plain().WithError(err).Fatal("config load failed")
	}

	key, generated, err := loadKey(cfg.Auth.PrivateKeyPEM)
	if err != nil {
		logger.Plain().WithError(err).Fatal("signing key unavailable")
	}
	if generated {
		logger.Plain().Warn("JWT_PRIVATE_KEY not set, generated an ephemeral signing key")
	}

	s := newTokenServer(key, cfg.Auth)
	srv := &http.Server{
		Addr:              cfg.Auth.JWKSPort,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithFields(map[string]any{
			"addr": srv.Addr,
			"kid":  cfg.Auth.KeyID,
		}).Info("JWKS server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("JWKS server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
