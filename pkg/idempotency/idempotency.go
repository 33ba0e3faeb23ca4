// Package idempotency replays the stored response of a request retried with
// the same Idempotency-Key header.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultTTL is how long a stored response is replayed
const DefaultTTL = 24 * time.Hour

const maxKeyLength = 255

var (
	ErrKeyEmpty   = errors.New("idempotency key is empty")
	ErrKeyTooLong = fmt.Errorf("idempotency key exceeds %d characters", maxKeyLength)
	ErrKeyInvalid = errors.New("idempotency key contains invalid characters")
)

// Record is a stored response
type Record struct {
	Key         string    `json:"key"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	RequestHash string    `json:"request_hash"`
	Status      int       `json:"status"`
	Body        []byte    `json:"body"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the record should no longer be replayed
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store persists records. Get returns nil, nil for an unknown or expired key.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, record *Record) error
}

// ValidateKey accepts printable ASCII keys up to 255 characters
func ValidateKey(key string) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if len(key) > maxKeyLength {
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return ErrKeyInvalid
		}
	}
	return nil
}

// HashRequest fingerprints the method, path and body of a request
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ReadBody reads at most limit bytes and fails when the body is larger
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return data, nil
}

// Cacheable reports whether a response status may be replayed. Server errors
// are left retryable.
func Cacheable(status int) bool {
	return status > 0 && status < http.StatusInternalServerError
}

// MemoryStore keeps records in process
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if r.Expired(s.now()) {
		delete(s.records, key)
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Save(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.records[record.Key] = &cp

	// Opportunistic sweep keeps the map bounded by live keys
	now := s.now()
	for k, r := range s.records {
		if r.Expired(now) {
			delete(s.records, k)
		}
	}
	return nil
}
