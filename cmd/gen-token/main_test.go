package main

import (
	"testing"
	"time"

	"github.com/woozar/prophecy-sub003/api"
)

func TestUserIDs(t *testing.T) {
	if got := userIDs(1, "u", 1, nil); len(got) != 1 || got[0] != "u" {
		t.Fatalf("unexpected single id %v", got)
	}
	if got := userIDs(3, "u", 5, nil); len(got) != 3 || got[0] != "u-5" || got[2] != "u-7" {
		t.Fatalf("unexpected ids %v", got)
	}
	if got := userIDs(1, "u", 1, []string{"alice"}); got[0] != "alice" {
		t.Fatalf("explicit id ignored: %v", got)
	}
}

func TestGeneratedTokensPassTestAuth(t *testing.T) {
	secret := []byte("s3cret")
	tokens, err := generateTokens(secret, []string{"alice", "bob"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	auth := api.NewTestAuth(secret)
	for i, want := range []string{"alice", "bob"} {
		got, err := auth.UserIDFromAuthHeader("Bearer " + tokens[i])
		if err != nil || got != want {
			t.Fatalf("token %d: got %q, %v", i, got, err)
		}
	}
}

func TestGenerateTokensRequiresSecret(t *testing.T) {
	if _, err := generateTokens(nil, []string{"alice"}, time.Hour, time.Now()); err == nil {
		t.Fatal("expected error without secret")
	}
}
