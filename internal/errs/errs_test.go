package errs

import (
	"errors"
	"log/slog"
	"testing"
)

var errKind = errors.New("tracker unavailable")

func TestMarkMatchesKindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	err := Wrap(Mark(cause, errKind), "search stories")
	if !errors.Is(err, errKind) {
		t.Fatalf("errors.Is(err, kind) = false, err=%v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is(err, cause) = false, err=%v", err)
	}
	if got := err.Error(); got != "search stories: tracker unavailable: dial tcp: connection refused" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestMarkIsIdempotent(t *testing.T) {
	marked := Mark(errors.New("boom"), errKind)
	if again := Mark(marked, errKind); again != marked {
		t.Fatalf("Mark() re-wrapped an already marked error: %v", again)
	}
	if Mark(nil, errKind) != nil {
		t.Fatalf("Mark(nil) expected nil")
	}
}

func TestErrorChainStringsWalksJoinedErrors(t *testing.T) {
	cause := errors.New("eof")
	err := Wrapf(Mark(cause, errKind), "get run %s", "run_1")

	chain := ErrorChainStrings(err)
	if len(chain) != 4 {
		t.Fatalf("chain len = %d, chain=%v", len(chain), chain)
	}
	if chain[0] != "get run run_1: tracker unavailable: eof" {
		t.Fatalf("chain[0] = %q", chain[0])
	}
	if chain[2] != "tracker unavailable" || chain[3] != "eof" {
		t.Fatalf("chain tail = %v", chain[2:])
	}
}

func TestLoggableIncludesStack(t *testing.T) {
	err := Wrap(WithStack(errors.New("root")), "outer")

	value := Loggable(err).LogValue()
	if value.Kind() != slog.KindGroup {
		t.Fatalf("LogValue kind = %v", value.Kind())
	}

	keys := map[string]bool{}
	for _, attr := range value.Group() {
		keys[attr.Key] = true
	}
	for _, key := range []string{"message", "chain", "stack"} {
		if !keys[key] {
			t.Fatalf("LogValue missing %q: %v", key, value.Group())
		}
	}
}
