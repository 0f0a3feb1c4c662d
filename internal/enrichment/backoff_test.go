package enrichment

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.errors); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}
