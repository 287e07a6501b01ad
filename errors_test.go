package fbgemm

import (
	"errors"
	"strings"
	"testing"
)

func TestStructuredErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
		wantOp   string
		wantMsg  string
		checkFn  func(error) bool
	}{
		{
			name:     "Invalid Size",
			err:      ErrInvalidSize,
			wantType: ErrTypeInvalidArg,
			wantOp:   "Malloc",
			wantMsg:  "size must be positive",
			checkFn:  IsInvalidArgError,
		},
		{
			name:     "Double Free",
			err:      ErrDoubleFree,
			wantType: ErrTypeMemory,
			wantOp:   "Free",
			wantMsg:  "double free detected",
			checkFn:  IsMemoryError,
		},
		{
			name:     "No Descriptor Engine",
			err:      ErrNoDescriptorEngine,
			wantType: ErrTypeNotImplemented,
			wantOp:   "GroupedGEMM",
			wantMsg:  "grouped GEMM without a block-copy descriptor engine is not supported",
			checkFn:  IsNotImplementedError,
		},
		{
			name:     "Single Group",
			err:      ErrSingleGroup,
			wantType: ErrTypeNotImplemented,
			wantOp:   "GroupedGEMM",
			wantMsg:  "grouped GEMM with a single group is not supported",
			checkFn:  IsNotImplementedError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e *Error
			if !errors.As(tt.err, &e) {
				t.Fatalf("Expected *Error, got %T", tt.err)
			}
			if e.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", e.Type, tt.wantType)
			}
			if e.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", e.Op, tt.wantOp)
			}
			if e.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", e.Message, tt.wantMsg)
			}
			if !tt.checkFn(tt.err) {
				t.Error("Type predicate rejected its own error")
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewInvalidArgError("GroupedGEMM", "a_tensor must be contiguous")
	msg := err.Error()

	for _, part := range []string{"fbgemm", "InvalidArgument", "GroupedGEMM", "a_tensor must be contiguous"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error message %q missing %q", msg, part)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("mmap failed")
	err := NewMemoryError("deviceWorkspace", "failed to allocate descriptor workspace", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is does not see the wrapped cause")
	}
	if !strings.Contains(err.Error(), "mmap failed") {
		t.Errorf("Formatted error %q omits the cause", err.Error())
	}
}

func TestErrorTypeString(t *testing.T) {
	tests := []struct {
		t    ErrorType
		want string
	}{
		{ErrTypeMemory, "Memory"},
		{ErrTypeInvalidArg, "InvalidArgument"},
		{ErrTypeExecution, "Execution"},
		{ErrTypeNumerical, "Numerical"},
		{ErrTypeDevice, "Device"},
		{ErrTypeNotImplemented, "NotImplemented"},
		{ErrorType(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestPredicatesRejectForeignErrors(t *testing.T) {
	plain := errors.New("plain error")
	if IsMemoryError(plain) || IsInvalidArgError(plain) || IsNotImplementedError(plain) {
		t.Error("Predicates must reject errors outside the taxonomy")
	}
	if IsInvalidArgError(nil) {
		t.Error("Predicates must reject nil")
	}
}
