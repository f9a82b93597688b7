package manifest

import (
	"time"

	"github.com/hupe1980/vash/encoder"
)

// CurrentVersion is the version of the manifest format.
const CurrentVersion = 1

// BlobRef names a blob written by a run.
type BlobRef struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	CRC32 uint32 `json:"crc32"`
}

// SkippedVideo is a video excluded from a run.
type SkippedVideo struct {
	Identity encoder.VideoIdentity `json:"identity" yaml:"identity"`
	Reason   string                `json:"reason" yaml:"reason"`
}

// Manifest describes one committed training run.
type Manifest struct {
	Version   int       `json:"version"`
	ID        uint64    `json:"id"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Codec     string    `json:"codec"`

	Dimension       int    `json:"dimension"`
	VocabularySize  int    `json:"vocabulary_size"`
	MaxOrientations int    `json:"max_orientations"`
	Metric          string `json:"metric"`
	Compression     string `json:"compression"`

	Seed       int64 `json:"seed"`
	Iterations int   `json:"iterations"`
	Converged  bool  `json:"converged"`
	Reseeded   int   `json:"reseeded"`

	Vocabulary BlobRef `json:"vocabulary"`
	Database   BlobRef `json:"database"`

	Videos      int            `json:"videos"`
	Descriptors int            `json:"descriptors"`
	Skipped     []SkippedVideo `json:"skipped,omitempty"`
}

// Validate checks the fields every reader depends on.
func (m *Manifest) Validate() error {
	switch {
	case m.Version != CurrentVersion:
		return ErrIncompatibleVersion
	case m.Dimension <= 0, m.VocabularySize <= 0:
		return errInvalid("dimension and vocabulary size must be positive")
	case m.Vocabulary.Name == "", m.Database.Name == "":
		return errInvalid("missing blob name")
	}
	return nil
}
