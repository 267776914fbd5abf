// Package auth checks API bearer tokens against a configured bcrypt hash.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid token")

// Service validates bearer tokens. With no hash configured every request is
// allowed, which suits a bridge bound to localhost.
type Service struct {
	hash []byte

	// tokens that already passed bcrypt
	mu       sync.RWMutex
	accepted map[string]struct{}
}

func NewService(tokenHash string) *Service {
	s := &Service{accepted: make(map[string]struct{})}
	if tokenHash != "" {
		s.hash = []byte(tokenHash)
	}
	return s
}

// Enabled reports whether a token is required.
func (s *Service) Enabled() bool {
	return s.hash != nil
}

func (s *Service) Validate(token string) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	s.mu.RLock()
	_, ok := s.accepted[token]
	s.mu.RUnlock()
	if ok {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	s.mu.Lock()
	s.accepted[token] = struct{}{}
	s.mu.Unlock()
	return nil
}

// NewToken returns a random token and its bcrypt hash for the api.tokenHash setting.
func NewToken() (token, hash string, err error) {
	token, err = generateToken()
	if err != nil {
		return "", "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return token, string(h), nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
