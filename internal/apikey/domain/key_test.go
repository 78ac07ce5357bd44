package domain

import (
	"regexp"
	"strings"
	"testing"
)

var keyFormat = regexp.MustCompile(`^clk_[0-9a-f]{48}$`)

func TestGenerateKeyUniqueness(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !keyFormat.MatchString(key) {
			t.Fatalf("unexpected key format %q", key)
		}
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key after %d generations", i)
		}
		seen[key] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct keys, got %d", n, len(seen))
	}
}

func TestLooksLikeKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !LooksLikeKey(key) {
		t.Fatalf("generated key rejected: %s", key)
	}
	for _, bad := range []string{"", "clk_", "sk_live_abc", key + "00", "clk_" + strings.Repeat("z", 48)} {
		if LooksLikeKey(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
