package repos

import (
	"bytes"
	"io"
	"testing"

	"github.com/voxbridge/voxbridge-backend/internal/types"
)

func TestWriteBlobSplitsIntoChunks(t *testing.T) {
	gdb, log := openTestDB(t)
	audio := NewAudioRepo(gdb, log)

	payload := bytes.Repeat([]byte{0xab}, 2*64+13) // two full chunks and a tail
	blobID, err := audio.WriteBlob(testCtx(), nil, bytes.NewReader(payload), 64)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if n := countRows(t, gdb, &types.AudioChunk{}, "blob_id = ?", blobID); n != 3 {
		t.Fatalf("chunk rows = %d, want 3", n)
	}

	reader := audio.ChunkReader(testCtx(), nil, blobID)
	var got []byte
	for {
		chunk, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("roundtrip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestWriteBlobEmptyPayload(t *testing.T) {
	gdb, log := openTestDB(t)
	audio := NewAudioRepo(gdb, log)

	blobID, err := audio.WriteBlob(testCtx(), nil, bytes.NewReader(nil), 64)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	reader := audio.ChunkReader(testCtx(), nil, blobID)
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("Next on empty blob: %v, want io.EOF", err)
	}
}

func TestDeleteBlobDropsChunks(t *testing.T) {
	gdb, log := openTestDB(t)
	audio := NewAudioRepo(gdb, log)

	blobID, err := audio.WriteBlob(testCtx(), nil, bytes.NewReader(bytes.Repeat([]byte{1}, 200)), 64)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := audio.DeleteBlob(testCtx(), nil, blobID); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if n := countRows(t, gdb, &types.AudioChunk{}, "blob_id = ?", blobID); n != 0 {
		t.Fatalf("chunk rows = %d, want 0", n)
	}
}

func TestOrphanBlobIDs(t *testing.T) {
	gdb, log := openTestDB(t)
	audio := NewAudioRepo(gdb, log)
	user := seedUser(t, gdb, "henry@example.com")

	linked, err := audio.WriteBlob(testCtx(), nil, bytes.NewReader([]byte("a")), 64)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	seedJob(t, gdb, user.ID, &linked)
	orphan, err := audio.WriteBlob(testCtx(), nil, bytes.NewReader([]byte("b")), 64)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	ids, err := audio.OrphanBlobIDs(testCtx(), nil)
	if err != nil {
		t.Fatalf("OrphanBlobIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != orphan {
		t.Fatalf("orphans = %v, want [%d]", ids, orphan)
	}
}
