package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"validation", NewValidationError("EMPTY_CART", "cart is empty"), KindValidation},
		{"wrapped permission", fmt.Errorf("create sale: %w", NewPermissionDenied("OVERRIDE_PRICE", "no")), KindPermissionDenied},
		{"gorm not found", gorm.ErrRecordNotFound, KindNotFound},
		{"duplicate key", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), KindIntegrity},
		{"deadline", context.DeadlineExceeded, KindConflict},
		{"unknown", errors.New("boom"), KindInternal},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSeverityOf(t *testing.T) {
	if got := SeverityOf(errors.New("boom")); got != SeverityCritical {
		t.Fatalf("unknown error severity = %s", got)
	}
	if got := SeverityOf(NewPermissionDenied("X", "no")); got != SeverityHigh {
		t.Fatalf("permission severity = %s", got)
	}
	if got := SeverityOf(NewConflict("X", "no")); got != SeverityMedium {
		t.Fatalf("conflict severity = %s", got)
	}
}

func TestAsAppErrorKeepsClassifiedErrors(t *testing.T) {
	orig := NewNotFound("sale")
	if got := AsAppError(fmt.Errorf("wrap: %w", orig)); got != orig {
		t.Fatalf("expected the wrapped AppError back, got %+v", got)
	}
	internal := AsAppError(errors.New("driver exploded"))
	if internal.Kind != KindInternal || internal.Message != "unexpected error" {
		t.Fatalf("unexpected internal mapping %+v", internal)
	}
	if !errors.Is(internal, internal.Err) {
		t.Fatal("internal error must unwrap to its cause")
	}
}

func TestSanitizeMetadata(t *testing.T) {
	out := SanitizeMetadata(map[string]any{
		"item_count": 3,
		"password":   "hunter2",
		"nested":     map[string]any{"api_key": "k", "tenant": "biz"},
	})
	if out["password"] != "[REDACTED]" {
		t.Fatalf("password not redacted: %v", out["password"])
	}
	nested := out["nested"].(map[string]any)
	if nested["api_key"] != "[REDACTED]" || nested["tenant"] != "biz" {
		t.Fatalf("unexpected nested %v", nested)
	}
	if out["item_count"] != 3 {
		t.Fatalf("item_count changed: %v", out["item_count"])
	}
}
