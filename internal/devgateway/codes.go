package devgateway

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const codeDigits = 6

var ten = big.NewInt(10)

// generateCode returns a random numeric code with every digit uniform.
func generateCode() (string, error) {
	s := make([]byte, codeDigits)
	for i := range codeDigits {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		s[i] = '0' + byte(d.Int64())
	}
	return string(s), nil
}

type codeEntry struct {
	code      string
	expiresAt time.Time
	failures  int
}

// codeStore holds the outstanding code per email.
type codeStore struct {
	mu          sync.Mutex
	m           map[string]*codeEntry
	maxFailures int
	nowF        func() time.Time
}

func newCodeStore(nowF func() time.Time, maxFailures int) *codeStore {
	return &codeStore{
		m:           make(map[string]*codeEntry),
		maxFailures: maxFailures,
		nowF:        nowF,
	}
}

// put replaces any outstanding code for email.
func (s *codeStore) put(email, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[email] = &codeEntry{code: code, expiresAt: expiresAt}
}

// get returns the outstanding code for email if it has not expired.
func (s *codeStore) get(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(email)
	if !ok {
		return "", false
	}
	return e.code, true
}

// verify consumes the code on a match. Too many mismatches discard it.
func (s *codeStore) verify(email, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(email)
	if !ok {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(e.code), []byte(code)) == 1 {
		delete(s.m, email)
		return true
	}

	e.failures++
	if e.failures >= s.maxFailures {
		delete(s.m, email)
	}
	return false
}

// live returns the entry for email, dropping it when expired. Caller holds s.mu.
func (s *codeStore) live(email string) (*codeEntry, bool) {
	e, ok := s.m[email]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.m, email)
		return nil, false
	}
	return e, true
}
