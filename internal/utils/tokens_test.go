package utils

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	raw, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(raw) != 43 {
		t.Fatalf("token length = %d, want 43", len(raw))
	}
	if strings.ContainsAny(raw, "+/=") {
		t.Fatalf("token is not URL-safe: %q", raw)
	}
	if hash != HashToken(raw) {
		t.Fatal("returned hash does not match HashToken")
	}
	if strings.HasSuffix(hash, "=") {
		t.Fatalf("hash is padded: %q", hash)
	}

	other, _, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if other == raw {
		t.Fatal("two tokens collided")
	}
}

func TestTokenHashEqual(t *testing.T) {
	raw, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !TokenHashEqual(raw, hash) {
		t.Fatal("matching token rejected")
	}
	if TokenHashEqual(raw+"x", hash) {
		t.Fatal("tampered token accepted")
	}
	if TokenHashEqual("", hash) {
		t.Fatal("empty token accepted")
	}
}
