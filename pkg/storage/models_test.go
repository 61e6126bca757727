package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinkExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)

	tests := []struct {
		name     string
		link     *Link
		expected bool
	}{
		{
			name:     "no expiry",
			link:     &Link{ExpiresAt: nil},
			expected: false,
		},
		{
			name:     "future expiry",
			link:     &Link{ExpiresAt: &future},
			expected: false,
		},
		{
			name:     "past expiry",
			link:     &Link{ExpiresAt: &past},
			expected: true,
		},
		{
			name:     "expiry exactly now is not yet expired",
			link:     &Link{ExpiresAt: &now},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.link.Expired(now))
		})
	}
}
