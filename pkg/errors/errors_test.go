package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorIncludesDetail(t *testing.T) {
	err := ErrStageFailed.WithDetail("summary unavailable or below minimum length")
	if got := err.Error(); got != "[4006] stage failed: summary unavailable or below minimum length" {
		t.Fatalf("Error() = %q", got)
	}

	wrapped := ErrStorage.WithDetail("put object").WithError(errors.New("bucket missing"))
	if got := wrapped.Error(); got != "[5004] object storage failed: put object: bucket missing" {
		t.Fatalf("Error() = %q", got)
	}

	if got := ErrConflict.Error(); got != "[1005] resource conflict" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestErrorClipsLongDetail(t *testing.T) {
	err := ErrExtractionFailure.WithDetail(strings.Repeat("x", maxDetailInError*2))
	got := err.Error()
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("long detail not clipped: %d bytes", len(got))
	}
	if len(got) > maxDetailInError+64 {
		t.Fatalf("Error() too long: %d", len(got))
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := ErrDependencyFailure.WithDetail("scenes")
	if !errors.Is(err, ErrDependencyFailure) {
		t.Fatal("errors.Is should match by code")
	}
	if errors.Is(err, ErrStageFailed) {
		t.Fatal("different codes must not match")
	}
}
