package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(ErrCodeJobNotFound, "job missing", http.StatusNotFound),
			want: "[JOB_NOT_FOUND] job missing",
		},
		{
			name: "error with underlying error",
			err:  Wrap(ErrCodeInternal, "boom", http.StatusInternalServerError, errors.New("underlying")),
			want: "[INTERNAL_SERVER_ERROR] boom: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ErrCodeInternal, "wrapped", http.StatusInternalServerError, underlying)
	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is to find the underlying error")
	}
}

func TestIsAndCodeOf(t *testing.T) {
	err := Validation("bad input")
	if !Is(err, ErrCodeValidation) {
		t.Error("Is() should match VALIDATION_ERROR")
	}
	if Is(err, ErrCodeJobNotFound) {
		t.Error("Is() should not match a different code")
	}

	wrapped := fmt.Errorf("context: %w", err)
	if CodeOf(wrapped) != ErrCodeValidation {
		t.Errorf("CodeOf(wrapped) = %s, want VALIDATION_ERROR", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != ErrCodeInternal {
		t.Error("CodeOf(plain) should default to INTERNAL_SERVER_ERROR")
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(MissingField("entity_id")); got != http.StatusUnprocessableEntity {
		t.Errorf("StatusOf = %d, want 422", got)
	}
	if got := StatusOf(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("StatusOf(plain) = %d, want 500", got)
	}
}

func TestWithDetails(t *testing.T) {
	err := InvalidEnum("event_type", "weather")
	if err.Details["field"] != "event_type" || err.Details["value"] != "weather" {
		t.Errorf("details = %v", err.Details)
	}
}
