package repos

import (
	"context"
	"errors"
	"io"

	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

var ErrBlobNotFound = errors.New("audio blob not found")

type AudioRepo interface {
	// WriteBlob streams r into chunk rows of at most chunkSize bytes and
	// returns the new blob id. Nothing larger than one chunk is held in
	// memory at a time.
	WriteBlob(ctx context.Context, tx *gorm.DB, r io.Reader, chunkSize int) (int64, error)
	// ChunkReader returns a restartable per-chunk iterator over the blob.
	ChunkReader(ctx context.Context, tx *gorm.DB, blobID int64) *ChunkReader
	DeleteBlob(ctx context.Context, tx *gorm.DB, blobID int64) error
	OrphanBlobIDs(ctx context.Context, tx *gorm.DB) ([]int64, error)
}

type audioRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAudioRepo(db *gorm.DB, baseLog *logger.Logger) AudioRepo {
	return &audioRepo{db: db, log: baseLog.With("repo", "AudioRepo")}
}

func (ar *audioRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return ar.db
}

func (ar *audioRepo) WriteBlob(ctx context.Context, tx *gorm.DB, r io.Reader, chunkSize int) (int64, error) {
	conn := ar.conn(tx).WithContext(ctx)
	blob := types.AudioBlob{}
	if err := conn.Create(&blob).Error; err != nil {
		return 0, err
	}
	buf := make([]byte, chunkSize)
	seq := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := types.AudioChunk{
				BlobID: blob.ID,
				Seq:    seq,
				Data:   append([]byte(nil), buf[:n]...),
			}
			if cerr := conn.Create(&chunk).Error; cerr != nil {
				return 0, cerr
			}
			seq++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return blob.ID, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func (ar *audioRepo) ChunkReader(ctx context.Context, tx *gorm.DB, blobID int64) *ChunkReader {
	return &ChunkReader{
		ctx:    ctx,
		conn:   ar.conn(tx),
		blobID: blobID,
	}
}

func (ar *audioRepo) DeleteBlob(ctx context.Context, tx *gorm.DB, blobID int64) error {
	return ar.conn(tx).WithContext(ctx).Delete(&types.AudioBlob{}, "id = ?", blobID).Error
}

func (ar *audioRepo) OrphanBlobIDs(ctx context.Context, tx *gorm.DB) ([]int64, error) {
	var ids []int64
	err := ar.conn(tx).WithContext(ctx).
		Model(&types.AudioBlob{}).
		Where("id NOT IN (?)",
			ar.conn(tx).Model(&types.Job{}).Select("audio_blob_id").Where("audio_blob_id IS NOT NULL")).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ChunkReader iterates a blob chunk by chunk. Each Next call is its own
// query, so iteration survives across suspension points and can resume
// after transient failures.
type ChunkReader struct {
	ctx    context.Context
	conn   *gorm.DB
	blobID int64
	seq    int
	read   bool
}

// Next returns the next chunk, or (nil, io.EOF) after the last one. A blob
// with no chunks at all yields ErrBlobNotFound on the first call.
func (cr *ChunkReader) Next() ([]byte, error) {
	var chunk types.AudioChunk
	err := cr.conn.WithContext(cr.ctx).
		Where("blob_id = ? AND seq = ?", cr.blobID, cr.seq).
		First(&chunk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if !cr.read && cr.seq == 0 {
			var blob types.AudioBlob
			if berr := cr.conn.WithContext(cr.ctx).First(&blob, "id = ?", cr.blobID).Error; berr != nil {
				return nil, ErrBlobNotFound
			}
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	cr.seq++
	cr.read = true
	return chunk.Data, nil
}
