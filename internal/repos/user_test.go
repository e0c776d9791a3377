package repos

import (
	"testing"
	"time"

	"github.com/voxbridge/voxbridge-backend/internal/types"
)

func TestStaleSinceExcludesProvisionedUsers(t *testing.T) {
	gdb, log := openTestDB(t)
	users := NewUserRepo(gdb, log)

	longAgo := time.Now().AddDate(0, 0, -200)
	stale := &types.User{Email: "stale@example.com", LastLogin: longAgo}
	if err := gdb.Create(stale).Error; err != nil {
		t.Fatalf("seed stale user: %v", err)
	}
	provisioned := &types.User{Email: "admin@example.com", LastLogin: longAgo}
	if err := gdb.Create(provisioned).Error; err != nil {
		t.Fatalf("seed provisioned user: %v", err)
	}
	if err := gdb.Create(&types.LocalAccount{UserID: provisioned.ID, PasswordHash: "x", Provisioned: true}).Error; err != nil {
		t.Fatalf("seed provisioned account: %v", err)
	}
	seedUser(t, gdb, "active@example.com")

	got, err := users.StaleSince(testCtx(), nil, time.Now().AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("StaleSince: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("stale = %+v, want only user %d", got, stale.ID)
	}
}

func TestDeleteByIDsRemovesOwnedRows(t *testing.T) {
	gdb, log := openTestDB(t)
	users := NewUserRepo(gdb, log)
	user := seedUser(t, gdb, "sven@example.com")
	survivor := seedUser(t, gdb, "tess@example.com")

	if err := gdb.Create(&types.LocalAccount{UserID: user.ID, PasswordHash: "h"}).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := gdb.Create(&types.JobSettings{UserID: user.ID, Model: "base"}).Error; err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	seedJob(t, gdb, user.ID, nil)
	keptJob := seedJob(t, gdb, survivor.ID, nil)

	if err := users.DeleteByIDs(testCtx(), nil, []int64{user.ID}); err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}

	if n := countRows(t, gdb, &types.User{}, "id = ?", user.ID); n != 0 {
		t.Fatal("user row survived")
	}
	if n := countRows(t, gdb, &types.LocalAccount{}, "user_id = ?", user.ID); n != 0 {
		t.Fatal("account row survived")
	}
	if n := countRows(t, gdb, &types.JobSettings{}, "user_id = ?", user.ID); n != 0 {
		t.Fatal("settings row survived")
	}
	if n := countRows(t, gdb, &types.Job{}, "user_id = ?", user.ID); n != 0 {
		t.Fatal("job row survived")
	}
	if n := countRows(t, gdb, &types.Job{}, "id = ?", keptJob.ID); n != 1 {
		t.Fatal("other user's job swept")
	}
}

func TestTouchLastLogin(t *testing.T) {
	gdb, log := openTestDB(t)
	users := NewUserRepo(gdb, log)

	user := &types.User{Email: "uma@example.com", LastLogin: time.Now().AddDate(0, 0, -10)}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := users.TouchLastLogin(testCtx(), nil, user.ID); err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}
	got, err := users.GetByID(testCtx(), nil, user.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if time.Since(got.LastLogin) > time.Minute {
		t.Fatalf("last_login not touched: %v", got.LastLogin)
	}
}
