package auth

import (
	"strings"
	"testing"
	"time"
)

func TestMintAndVerify(t *testing.T) {
	a := New([]byte("topsecret"))
	owner := NewOwnerID()
	tok, err := a.Mint(owner, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	p, err := a.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.ID != owner {
		t.Fatalf("expected owner %q, got %q", owner, p.ID)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	a := New([]byte("topsecret"))
	tok, err := a.Mint(NewOwnerID(), time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Swap the owner id for another one, keeping the signature.
	parts := strings.SplitN(tok, ":", 2)
	forged := NewOwnerID() + ":" + parts[1]
	if _, err := a.Verify(forged); err == nil {
		t.Fatalf("expected forged token to be rejected")
	}
	// A different secret must reject the original token.
	if _, err := New([]byte("othersecret")).Verify(tok); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	a := New([]byte("topsecret"))
	tok, err := a.Mint(NewOwnerID(), -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := a.Verify(tok); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestMintRequiresUUID(t *testing.T) {
	a := New([]byte("topsecret"))
	if _, err := a.Mint("not-a-uuid", time.Hour); err == nil {
		t.Fatalf("expected non-uuid owner id to be rejected")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	a := New([]byte("topsecret"))
	for _, tok := range []string{"", "abc", "a:b", "a:b:c:d"} {
		if _, err := a.Verify(tok); err == nil {
			t.Fatalf("expected %q to be rejected", tok)
		}
	}
}
