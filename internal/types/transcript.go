package types

import (
	"gorm.io/datatypes"
)

// TranscriptFormat selects one of the five stored representations.
type TranscriptFormat string

const (
	TranscriptFormatPlain        TranscriptFormat = "plain"
	TranscriptFormatTimeCoded    TranscriptFormat = "timecoded"
	TranscriptFormatTabSeparated TranscriptFormat = "tsv"
	TranscriptFormatCaptioned    TranscriptFormat = "captioned"
	TranscriptFormatStructured   TranscriptFormat = "structured"
)

func (f TranscriptFormat) Valid() bool {
	switch f {
	case TranscriptFormatPlain, TranscriptFormatTimeCoded, TranscriptFormatTabSeparated,
		TranscriptFormatCaptioned, TranscriptFormatStructured:
		return true
	}
	return false
}

// Transcript holds all representations of a successful job's output,
// written once at finalisation.
type Transcript struct {
	JobID        int64          `gorm:"primaryKey;column:job_id" json:"job_id"`
	Plain        string         `gorm:"not null;column:plain" json:"plain"`
	TimeCoded    string         `gorm:"not null;column:timecoded" json:"timecoded"`
	TabSeparated string         `gorm:"not null;column:tsv" json:"tsv"`
	Captioned    string         `gorm:"not null;column:captioned" json:"captioned"`
	Structured   datatypes.JSON `gorm:"column:structured" json:"structured"`
}

func (Transcript) TableName() string {
	return "transcripts"
}

// Representation returns the stored form selected by format. The
// structured form is raw JSON; every other form is a string.
func (t *Transcript) Representation(format TranscriptFormat) (string, datatypes.JSON, bool) {
	switch format {
	case TranscriptFormatPlain:
		return t.Plain, nil, true
	case TranscriptFormatTimeCoded:
		return t.TimeCoded, nil, true
	case TranscriptFormatTabSeparated:
		return t.TabSeparated, nil, true
	case TranscriptFormatCaptioned:
		return t.Captioned, nil, true
	case TranscriptFormatStructured:
		return "", t.Structured, true
	}
	return "", nil, false
}
