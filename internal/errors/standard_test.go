package errors

import (
	"strings"
	"testing"
)

func TestErrorFormatsCategoryCodeAndMessage(t *testing.T) {
	err := ArenaExhausted("bootstrap arena full")
	msg := err.Error()
	for _, want := range []string{"BOOTSTRAP", "ARENA_EXHAUSTED", "bootstrap arena full"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected error message to contain %q, got %q", want, msg)
		}
	}
}

func TestNewStandardErrorRecordsCaller(t *testing.T) {
	err := NewStandardError(CategoryAllocator, "CODE", "message", nil)
	if err.Caller == "" || err.Caller == "unknown" {
		t.Fatalf("expected a resolved caller name, got %q", err.Caller)
	}
	if !strings.Contains(err.Caller, "TestNewStandardErrorRecordsCaller") {
		t.Fatalf("expected caller to name this test function, got %q", err.Caller)
	}
}

func TestInvalidAlignmentCarriesAlignmentInContext(t *testing.T) {
	err := InvalidAlignment(3)
	if err.Category != CategoryAllocator {
		t.Fatalf("expected CategoryAllocator, got %v", err.Category)
	}
	if err.Context["alignment"] != uintptr(3) {
		t.Fatalf("expected context alignment=3, got %v", err.Context["alignment"])
	}
}

func TestUnknownCommandCarriesOriginalLine(t *testing.T) {
	err := UnknownCommand("bogus")
	if err.Category != CategoryControl {
		t.Fatalf("expected CategoryControl, got %v", err.Category)
	}
	if err.Context["line"] != "bogus" {
		t.Fatalf("expected context line=bogus, got %v", err.Context["line"])
	}
}
