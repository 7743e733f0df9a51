package auth

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
)

// ErrInvalidToken is returned for unknown or empty tokens
var ErrInvalidToken = errors.New("invalid token")

// Service verifies realtime client tokens against the static configuration
// table, implementing interfaces.TokenVerifier
type Service struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> principal name
	logger arbor.ILogger
}

// NewService creates a token verifier from the auth configuration
func NewService(cfg common.AuthConfig, logger arbor.ILogger) *Service {
	tokens := make(map[string]string, len(cfg.Tokens))
	for token, name := range cfg.Tokens {
		tokens[token] = name
	}
	return &Service{tokens: tokens, logger: logger}
}

// Verify implements interfaces.TokenVerifier
func (s *Service) Verify(token string) (*interfaces.Principal, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	s.mu.RLock()
	name, ok := s.tokens[token]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidToken
	}

	return &interfaces.Principal{
		ID:   principalID(name),
		Name: name,
		Role: "user",
	}, nil
}

// Guest returns the anonymous principal used when verification fails and
// guest access is enabled
func Guest() *interfaces.Principal {
	return &interfaces.Principal{
		ID:    "guest",
		Name:  "guest",
		Role:  "guest",
		Guest: true,
	}
}

func principalID(name string) string {
	sum := sha1.Sum([]byte(name))
	return fmt.Sprintf("user_%x", sum[:6])
}
