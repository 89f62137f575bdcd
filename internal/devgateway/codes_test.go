package devgateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	var seen [codeDigits][10]int

	const draws = 2000
	for range draws {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, codeDigits)

		for i, r := range code {
			require.True(t, r >= '0' && r <= '9', "non-digit in %q", code)
			seen[i][r-'0']++
		}
	}

	// every digit turns up in every position, and none dominates
	for pos, counts := range seen {
		for digit, n := range counts {
			assert.Positive(t, n, "digit %d never drawn at position %d", digit, pos)
			assert.Less(t, n, draws/5, "digit %d over-represented at position %d", digit, pos)
		}
	}
}

func TestCodeStore_VerifyAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := newCodeStore(func() time.Time { return now }, 2)

	s.put("ada@example.com", "123456", now.Add(time.Minute))
	code, ok := s.get("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, "123456", code)

	assert.False(t, s.verify("ada@example.com", "000000"))
	assert.True(t, s.verify("ada@example.com", "123456"))

	s.put("ada@example.com", "654321", now.Add(time.Minute))
	now = now.Add(2 * time.Minute)
	_, ok = s.get("ada@example.com")
	assert.False(t, ok, "expired codes are not returned")
}
