package store

import (
	"testing"
	"time"
)

func TestJWTSessionRoundTrip(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Minute)
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	uid, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("get user by token: %v", err)
	}
	if !ok || uid != "user-1" {
		t.Fatalf("unexpected lookup: ok=%v uid=%q", ok, uid)
	}
}

func TestJWTSessionRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTSessionStore("secret-a", time.Minute)
	verifier := NewJWTSessionStore("secret-b", time.Minute)
	token, err := issuer.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := verifier.GetUserIDByToken(token); ok {
		t.Fatalf("token accepted with wrong secret")
	}
}

func TestJWTSessionRejectsExpired(t *testing.T) {
	s := NewJWTSessionStore("test-secret", -time.Minute)
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatalf("expired token accepted")
	}
}

func TestJWTSessionRejectsGarbage(t *testing.T) {
	s := NewJWTSessionStore("test-secret", time.Minute)
	if _, ok, _ := s.GetUserIDByToken("not.a.token"); ok {
		t.Fatalf("garbage token accepted")
	}
}
