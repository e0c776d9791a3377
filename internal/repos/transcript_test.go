package repos

import (
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge-backend/internal/types"
)

func TestGetAndMarkDownloadedFlipsOnce(t *testing.T) {
	gdb, log := openTestDB(t)
	jobs := NewJobRepo(gdb, log)
	transcripts := NewTranscriptRepo(gdb, log)
	user := seedUser(t, gdb, "ivy@example.com")
	job := seedJob(t, gdb, user.ID, nil)

	if err := jobs.FinishSuccessful(testCtx(), nil, job.ID, nil,
		&types.Transcript{Plain: "the text"}); err != nil {
		t.Fatalf("FinishSuccessful: %v", err)
	}

	got, err := transcripts.GetAndMarkDownloaded(testCtx(), nil, user.ID, job.ID)
	if err != nil {
		t.Fatalf("GetAndMarkDownloaded: %v", err)
	}
	if got.Plain != "the text" {
		t.Fatalf("plain = %q", got.Plain)
	}
	after, err := jobs.GetByID(testCtx(), nil, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.Downloaded == nil || !*after.Downloaded {
		t.Fatalf("downloaded = %v, want true", after.Downloaded)
	}

	// Repeat downloads succeed but the flag stays true.
	if _, err := transcripts.GetAndMarkDownloaded(testCtx(), nil, user.ID, job.ID); err != nil {
		t.Fatalf("second download: %v", err)
	}
}

func TestGetAndMarkDownloadedWrongOwner(t *testing.T) {
	gdb, log := openTestDB(t)
	jobs := NewJobRepo(gdb, log)
	transcripts := NewTranscriptRepo(gdb, log)
	owner := seedUser(t, gdb, "owner@example.com")
	stranger := seedUser(t, gdb, "stranger@example.com")
	job := seedJob(t, gdb, owner.ID, nil)
	if err := jobs.FinishSuccessful(testCtx(), nil, job.ID, nil, &types.Transcript{Plain: "x"}); err != nil {
		t.Fatalf("FinishSuccessful: %v", err)
	}

	if _, err := transcripts.GetAndMarkDownloaded(testCtx(), nil, stranger.ID, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("cross-user download: %v, want ErrJobNotFound", err)
	}
}

func TestGetAndMarkDownloadedFailedJob(t *testing.T) {
	gdb, log := openTestDB(t)
	jobs := NewJobRepo(gdb, log)
	transcripts := NewTranscriptRepo(gdb, log)
	user := seedUser(t, gdb, "jack@example.com")
	job := seedJob(t, gdb, user.ID, nil)
	if err := jobs.FinishFailed(testCtx(), nil, job.ID, "broken", nil); err != nil {
		t.Fatalf("FinishFailed: %v", err)
	}

	if _, err := transcripts.GetAndMarkDownloaded(testCtx(), nil, user.ID, job.ID); !errors.Is(err, ErrTranscriptNotFound) {
		t.Fatalf("failed-job download: %v, want ErrTranscriptNotFound", err)
	}
}
