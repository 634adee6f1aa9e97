package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/splax/memtimeline/internal/domain"
	"github.com/splax/memtimeline/internal/repository"
)

func TestInteractionsRoundTripAtMicrosecondPrecision(t *testing.T) {
	in := []domain.Interaction{
		{Label: "Action_Scroll", Start: 1500 * time.Microsecond, End: 3 * time.Millisecond},
		{Label: "Action_Tap", Start: 5 * time.Millisecond, End: 5*time.Millisecond + 999*time.Nanosecond},
	}
	raw, err := encodeInteractions(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeInteractions(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []domain.Interaction{
		in[0],
		{Label: "Action_Tap", Start: 5 * time.Millisecond, End: 5 * time.Millisecond},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected interactions (-want +got):\n%s", diff)
	}
}

func TestDecodeInteractionsEmpty(t *testing.T) {
	got, err := decodeInteractions(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestMapError(t *testing.T) {
	cases := map[string]error{
		"23503": repository.ErrNotFound,
		"23514": repository.ErrInvalidArgument,
		"22P02": repository.ErrInvalidArgument,
		"23505": repository.ErrInvalidArgument,
	}
	for code, want := range cases {
		if err := mapError(&pgconn.PgError{Code: code}); !errors.Is(err, want) {
			t.Errorf("code %s: expected %v, got %v", code, want, err)
		}
	}
	other := errors.New("connection reset")
	if err := mapError(other); !errors.Is(err, other) {
		t.Fatalf("expected passthrough, got %v", err)
	}
}
