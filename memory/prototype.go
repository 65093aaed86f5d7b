package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Prototype is a consolidated cluster of similar chunks, represented by the
// normalized mean of its members.
type Prototype struct {
	ID          string    `json:"id"`
	Centroid    []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	MemberCount int       `json:"member_count"`

	// Summary is the text of the chunk that founded the prototype.
	Summary string `json:"summary,omitempty"`

	// MeanNorm is the length of the un-normalized member mean, so that
	// Centroid*MeanNorm recovers the mean exactly.
	MeanNorm float64 `json:"mean_norm"`
}

func (p Prototype) clone() Prototype {
	p.Centroid = append([]float32(nil), p.Centroid...)
	return p
}

// RawMemory is one ingested chunk. It never changes after creation.
type RawMemory struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"-"`
	PrototypeID string    `json:"prototype_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Evidence links a chunk to the prototype it was placed in.
type Evidence struct {
	PrototypeID string    `json:"prototype_id"`
	MemoryID    string    `json:"memory_id"`
	Timestamp   time.Time `json:"timestamp"`
	Similarity  float64   `json:"similarity"`
}

// ContentHash is the dedup key of a chunk: hex sha256 of its trimmed text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}
