package types

// AudioBlob groups the chunk rows of one uploaded audio file. The job row
// references the blob by id (its audio handle); deleting the blob cascades
// to the chunks.
type AudioBlob struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`
}

func (AudioBlob) TableName() string {
	return "audio_blobs"
}

// AudioChunk is one fixed-size slice of a blob, ordered by Seq.
type AudioChunk struct {
	ID     int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	BlobID int64  `gorm:"not null;uniqueIndex:idx_blob_seq;column:blob_id" json:"blob_id"`
	Seq    int    `gorm:"not null;uniqueIndex:idx_blob_seq;column:seq" json:"seq"`
	Data   []byte `gorm:"not null;column:data" json:"-"`
}

func (AudioChunk) TableName() string {
	return "audio_chunks"
}
