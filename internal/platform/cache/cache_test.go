package cache

import (
	"errors"
	"testing"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/0", false},
		{"valid-tls", "rediss://cache.internal:6380", false},
		{"empty", "", true},
		{"wrong-scheme", "http://localhost:6379", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Errorf("ParseURL() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestKey(t *testing.T) {
	c := &Cache{namespace: DefaultNamespace}
	if got := c.Key("lock", "learner:l1"); got != "planner:lock:learner:l1" {
		t.Errorf("Key() = %q", got)
	}
	if got := (&Cache{}).Key("leaderboard", "xp"); got != "leaderboard:xp" {
		t.Errorf("Key() without namespace = %q", got)
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	_, err := New(t.Context(), "redis://localhost:59999")
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("New() error = %v, want ErrStorage", err)
	}
}
