package migrate

import (
	"testing"
	"time"
)

func TestNextVersionStaysMonotonic(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := nextVersion("", now); got != "20250101000000" {
		t.Fatalf("expected clock version, got %s", got)
	}
	if got := nextVersion("20241231235959", now); got != "20250101000000" {
		t.Fatalf("expected clock version past older latest, got %s", got)
	}
	if got := nextVersion("20250101000200", now); got != "20250101000201" {
		t.Fatalf("expected bump past newer latest, got %s", got)
	}
}
