package repos

import (
	"testing"

	"github.com/voxbridge/voxbridge-backend/internal/types"
)

func TestGetOrCreateIsStable(t *testing.T) {
	gdb, log := openTestDB(t)
	secrets := NewTokenSecretRepo(gdb, log)
	user := seedUser(t, gdb, "pam@example.com")

	first, err := secrets.GetOrCreate(testCtx(), nil, user.ID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.Secret == "" {
		t.Fatal("empty secret")
	}
	second, err := secrets.GetOrCreate(testCtx(), nil, user.ID)
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if second.Secret != first.Secret {
		t.Fatal("secret changed without rotation")
	}
}

func TestRotateMintsFreshSecret(t *testing.T) {
	gdb, log := openTestDB(t)
	secrets := NewTokenSecretRepo(gdb, log)
	user := seedUser(t, gdb, "quinn@example.com")

	before, err := secrets.GetOrCreate(testCtx(), nil, user.ID)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := secrets.Rotate(testCtx(), nil, user.ID); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// The store trigger recreates the row on delete, so a secret always
	// exists for a live user.
	if n := countRows(t, gdb, &types.TokenSecret{}, "user_id = ?", user.ID); n != 1 {
		t.Fatalf("secret rows = %d, want 1", n)
	}
	after, err := secrets.GetOrCreate(testCtx(), nil, user.ID)
	if err != nil {
		t.Fatalf("GetOrCreate after rotate: %v", err)
	}
	if after.Secret == before.Secret {
		t.Fatal("rotation kept the old secret")
	}
}

func TestRotateForDeletedUserLeavesNoRow(t *testing.T) {
	gdb, log := openTestDB(t)
	secrets := NewTokenSecretRepo(gdb, log)
	users := NewUserRepo(gdb, log)
	user := seedUser(t, gdb, "ruth@example.com")

	if _, err := secrets.GetOrCreate(testCtx(), nil, user.ID); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := users.DeleteByIDs(testCtx(), nil, []int64{user.ID}); err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	if n := countRows(t, gdb, &types.TokenSecret{}, "user_id = ?", user.ID); n != 0 {
		t.Fatalf("secret rows = %d, want 0", n)
	}
}
