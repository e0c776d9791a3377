package repos

import (
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge-backend/internal/types"
)

func TestSetDefaultMovesTheFlag(t *testing.T) {
	gdb, log := openTestDB(t)
	settings := NewSettingsRepo(gdb, log)
	user := seedUser(t, gdb, "kate@example.com")

	first, err := settings.Create(testCtx(), nil, &types.JobSettings{UserID: user.ID, Model: "base"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := settings.Create(testCtx(), nil, &types.JobSettings{UserID: user.ID, Model: "large-v3"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := settings.SetDefault(testCtx(), nil, user.ID, first.ID); err != nil {
		t.Fatalf("SetDefault first: %v", err)
	}
	if err := settings.SetDefault(testCtx(), nil, user.ID, second.ID); err != nil {
		t.Fatalf("SetDefault second: %v", err)
	}

	def, err := settings.GetDefault(testCtx(), nil, user.ID)
	if err != nil {
		t.Fatalf("GetDefault: %v", err)
	}
	if def.ID != second.ID {
		t.Fatalf("default = %d, want %d", def.ID, second.ID)
	}
	if n := countRows(t, gdb, &types.JobSettings{}, "user_id = ? AND is_default", user.ID); n != 1 {
		t.Fatalf("default rows = %d, want 1", n)
	}
}

func TestSetDefaultUnknownID(t *testing.T) {
	gdb, log := openTestDB(t)
	settings := NewSettingsRepo(gdb, log)
	user := seedUser(t, gdb, "liam@example.com")

	if err := settings.SetDefault(testCtx(), nil, user.ID, 9999); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("SetDefault: %v, want ErrSettingsNotFound", err)
	}
}

func TestGetOwnedRejectsOtherUsers(t *testing.T) {
	gdb, log := openTestDB(t)
	settings := NewSettingsRepo(gdb, log)
	owner := seedUser(t, gdb, "mia@example.com")
	stranger := seedUser(t, gdb, "noah@example.com")

	created, err := settings.Create(testCtx(), nil, &types.JobSettings{UserID: owner.ID, Model: "base"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := settings.GetOwned(testCtx(), nil, stranger.ID, created.ID); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("GetOwned cross-user: %v, want ErrSettingsNotFound", err)
	}
}

func TestDeleteOrphanNonDefault(t *testing.T) {
	gdb, log := openTestDB(t)
	settings := NewSettingsRepo(gdb, log)
	user := seedUser(t, gdb, "olga@example.com")

	def, err := settings.Create(testCtx(), nil, &types.JobSettings{UserID: user.ID, Model: "base"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := settings.SetDefault(testCtx(), nil, user.ID, def.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	referenced, err := settings.Create(testCtx(), nil, &types.JobSettings{UserID: user.ID, Model: "small"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job := seedJob(t, gdb, user.ID, nil)
	if err := gdb.Model(&types.Job{}).Where("id = ?", job.ID).
		Update("settings_id", referenced.ID).Error; err != nil {
		t.Fatalf("link settings: %v", err)
	}
	if _, err := settings.Create(testCtx(), nil, &types.JobSettings{UserID: user.ID, Model: "tiny"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	removed, err := settings.DeleteOrphanNonDefault(testCtx(), nil, &user.ID)
	if err != nil {
		t.Fatalf("DeleteOrphanNonDefault: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	remaining, err := settings.ListByUser(testCtx(), nil, user.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2 (default and referenced)", len(remaining))
	}
}
