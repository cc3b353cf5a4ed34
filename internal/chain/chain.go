package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// one immutable authored contribution in turn-based mode
type Segment struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// reported by Verify when a stored segment hash does not match its
// recomputed value. Never returned during normal append.
type MismatchError struct {
	Index     int
	SegmentID string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("hash mismatch at segment %d (%s)", e.Index, e.SegmentID)
}

// an append-only, hash-linked sequence of authored segments
type Ledger struct {
	mu       sync.RWMutex
	segments []Segment
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// reconstructs a ledger from stored segments, in append order
func NewLedgerFromSegments(segments []Segment) *Ledger {
	l := &Ledger{}
	l.segments = append(l.segments, segments...)
	return l
}

// ComputeHash derives a segment hash from its content, the previous
// segment's hash, the author, and the creation instant. Any alteration of
// a historical segment changes its recomputed hash and is detectable.
func ComputeHash(content, prevHash, authorID string, createdAt time.Time) string {
	var b strings.Builder
	b.WriteString(content)
	b.WriteByte(0x1f)
	b.WriteString(prevHash)
	b.WriteByte(0x1f)
	b.WriteString(authorID)
	b.WriteByte(0x1f)
	b.WriteString(strconv.FormatInt(createdAt.UnixMilli(), 10))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// appends a new segment authored at the given instant and returns it.
// Segments are never edited or reordered after append.
func (l *Ledger) Append(content, authorID, authorName string, now time.Time) Segment {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := ""
	if n := len(l.segments); n > 0 {
		prevHash = l.segments[n-1].Hash
	}

	segment := Segment{
		ID:         uuid.NewString(),
		Content:    content,
		AuthorID:   authorID,
		AuthorName: authorName,
		CreatedAt:  now,
		PrevHash:   prevHash,
		Hash:       ComputeHash(content, prevHash, authorID, now),
	}

	l.segments = append(l.segments, segment)
	return segment
}

// returns the hash of the most recent segment, or "" for an empty chain
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n := len(l.segments); n > 0 {
		return l.segments[n-1].Hash
	}

	return ""
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments)
}

// returns a copy of the chain in append order
func (l *Ledger) Segments() []Segment {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Segment, len(l.segments))
	copy(out, l.segments)
	return out
}

// recomputes every segment hash against its content and the previous
// segment's stored hash. Returns a *MismatchError for the first segment
// whose stored hash does not reproduce, nil when the chain is intact.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return VerifySegments(l.segments)
}

// verifies an arbitrary stored chain without constructing a ledger
func VerifySegments(segments []Segment) error {
	prevHash := ""

	for i, s := range segments {
		if s.PrevHash != prevHash {
			return &MismatchError{Index: i, SegmentID: s.ID}
		}

		if ComputeHash(s.Content, prevHash, s.AuthorID, s.CreatedAt) != s.Hash {
			return &MismatchError{Index: i, SegmentID: s.ID}
		}

		prevHash = s.Hash
	}

	return nil
}
