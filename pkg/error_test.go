package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode_String(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{CodeSuccess, "success"},
		{CodeGeneric, "error"},
		{CodeParameter, "parameter"},
		{CodeState, "state"},
		{CodeTimeout, "timeout"},
		{CodeCardBusy, "card-busy"},
		{CodeIllegalCard, "illegal-card"},
		{CodeProtocol, "protocol"},
		{CodeCardStatus, "card-status"},
		{CodeDMA, "dma"},
		{CodeTransfer, "transfer"},
		{CodeSizeOver, "size-over"},
		{CodeNotSupported, "not-supported"},
		{ErrorCode(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.String(); got != tt.want {
				t.Errorf("ErrorCode.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_Error(t *testing.T) {
	tests := []struct {
		code    ErrorCode
		wantErr error
	}{
		{CodeSuccess, nil},
		{CodeParameter, ErrInvalidParameter},
		{CodeState, ErrInvalidState},
		{CodeTimeout, ErrTimeout},
		{CodeCardBusy, ErrCardBusy},
		{CodeIllegalCard, ErrIllegalCard},
		{CodeCardStatus, ErrCardStatus},
		{CodeDMA, ErrDMA},
		{CodeTransfer, ErrTransfer},
		{CodeSizeOver, ErrSizeOver},
		{CodeGeneric, ErrProtocol},
		{CodeProtocol, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := tt.code.Error()
			if tt.wantErr == nil && err != nil {
				t.Errorf("ErrorCode.Error() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ErrorCode.Error() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeSuccess},
		{"parameter", ErrInvalidParameter, CodeParameter},
		{"wrapped state", fmt.Errorf("mount: %w", ErrInvalidState), CodeState},
		{"timeout", ErrTimeout, CodeTimeout},
		{"busy", ErrCardBusy, CodeCardBusy},
		{"illegal", ErrIllegalCard, CodeIllegalCard},
		{"card status wins over protocol", fmt.Errorf("%w: %w", ErrProtocol, ErrCardStatus), CodeCardStatus},
		{"protocol", fmt.Errorf("cmd6: %w", ErrProtocol), CodeProtocol},
		{"dma", ErrDMA, CodeDMA},
		{"transfer", ErrTransfer, CodeTransfer},
		{"size over", ErrSizeOver, CodeSizeOver},
		{"foreign", errors.New("boom"), CodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrInvalidParameter,
		ErrInvalidState,
		ErrTimeout,
		ErrCardBusy,
		ErrIllegalCard,
		ErrProtocol,
		ErrCardStatus,
		ErrDMA,
		ErrTransfer,
		ErrSizeOver,
		ErrNotSupported,
		ErrClosed,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrInvalidParameter, "invalid parameter"},
		{ErrInvalidState, "invalid driver state"},
		{ErrCardBusy, "card busy"},
		{ErrIllegalCard, "illegal card"},
		{ErrDMA, "DMA error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}
