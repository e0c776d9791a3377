package repos

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/db"
	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

func openTestDB(t *testing.T) (*gorm.DB, *logger.Logger) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb, log); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb, log
}

func seedUser(t *testing.T, gdb *gorm.DB, email string) *types.User {
	t.Helper()
	user := &types.User{Email: email, LastLogin: time.Now()}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedJob(t *testing.T, gdb *gorm.DB, userID int64, blobID *int64) *types.Job {
	t.Helper()
	job := &types.Job{UserID: userID, FileName: "meeting.wav", AudioBlobID: blobID}
	if err := gdb.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func seedBlob(t *testing.T, gdb *gorm.DB, payload []byte) int64 {
	t.Helper()
	blob := &types.AudioBlob{}
	if err := gdb.Create(blob).Error; err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	if err := gdb.Create(&types.AudioChunk{BlobID: blob.ID, Seq: 0, Data: payload}).Error; err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
	return blob.ID
}

func countRows(t *testing.T, gdb *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := gdb.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func testCtx() context.Context {
	return context.Background()
}
