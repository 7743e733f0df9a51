package auth

import (
	"errors"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/common"
)

func TestVerifyKnownToken(t *testing.T) {
	s := NewService(common.AuthConfig{
		Tokens: map[string]string{"secret-token": "alice"},
	}, arbor.NewLogger())

	principal, err := s.Verify("secret-token")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if principal.Name != "alice" || principal.Role != "user" {
		t.Errorf("principal = %+v", principal)
	}
	if principal.Guest {
		t.Error("verified principal flagged as guest")
	}
	if principal.ID == "" || principal.ID == "alice" {
		t.Errorf("principal id = %q, want derived identifier", principal.ID)
	}
}

func TestVerifyRejectsUnknownAndEmpty(t *testing.T) {
	s := NewService(common.AuthConfig{
		Tokens: map[string]string{"secret-token": "alice"},
	}, arbor.NewLogger())

	if _, err := s.Verify("wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown token err = %v, want ErrInvalidToken", err)
	}
	if _, err := s.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyStableID(t *testing.T) {
	s := NewService(common.AuthConfig{
		Tokens: map[string]string{"t1": "alice", "t2": "alice"},
	}, arbor.NewLogger())

	// Same principal name yields the same id regardless of token
	first, err := s.Verify("t1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Verify("t2")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("ids diverged: %s vs %s", first.ID, second.ID)
	}
}

func TestGuestPrincipal(t *testing.T) {
	g := Guest()
	if !g.Guest || g.Role != "guest" || g.ID != "guest" {
		t.Errorf("guest = %+v", g)
	}
}
