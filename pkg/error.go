package pkg

import "errors"

// Driver errors.
var (
	// ErrInvalidParameter indicates an invalid argument (bad width, start
	// sector after end sector, partition id outside its field).
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidState indicates a driver or card state precondition was not met.
	ErrInvalidState = errors.New("invalid driver state")

	// ErrTimeout indicates a bounded wait or poll expired.
	ErrTimeout = errors.New("timeout")

	// ErrCardBusy indicates the card or controller reported busy.
	ErrCardBusy = errors.New("card busy")

	// ErrIllegalCard indicates an unsupported card (spec version, access mode,
	// transfer speed).
	ErrIllegalCard = errors.New("illegal card")

	// ErrProtocol indicates a command failed at the protocol level.
	ErrProtocol = errors.New("protocol error")

	// ErrCardStatus indicates an R1 card status error bit was set.
	ErrCardStatus = errors.New("card status error")

	// ErrDMA indicates a DMA channel reported a fault.
	ErrDMA = errors.New("DMA error")

	// ErrTransfer indicates a PIO transfer was terminated by the interrupt
	// handler.
	ErrTransfer = errors.New("transfer error")

	// ErrSizeOver indicates a sector range exceeds the partition or work area.
	ErrSizeOver = errors.New("size over")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrClosed indicates the controller has been closed.
	ErrClosed = errors.New("controller closed")
)

// ErrorCode is the compact error classification stored in the diagnostic
// slot.
type ErrorCode uint16

// Error codes.
const (
	CodeSuccess     ErrorCode = iota // No error
	CodeGeneric                      // Unclassified failure
	CodeParameter                    // Invalid parameter
	CodeState                        // State precondition violated
	CodeTimeout                      // Poll or wait timeout
	CodeCardBusy                     // Card or controller busy
	CodeIllegalCard                  // Unsupported card
	CodeProtocol                     // Command or response failure
	CodeCardStatus                   // R1 status error bit
	CodeDMA                          // DMA channel fault
	CodeTransfer                     // PIO transfer terminated
	CodeSizeOver                     // Range exceeds limits
	CodeNotSupported                 // Unsupported operation
)

// String returns a string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeGeneric:
		return "error"
	case CodeParameter:
		return "parameter"
	case CodeState:
		return "state"
	case CodeTimeout:
		return "timeout"
	case CodeCardBusy:
		return "card-busy"
	case CodeIllegalCard:
		return "illegal-card"
	case CodeProtocol:
		return "protocol"
	case CodeCardStatus:
		return "card-status"
	case CodeDMA:
		return "dma"
	case CodeTransfer:
		return "transfer"
	case CodeSizeOver:
		return "size-over"
	case CodeNotSupported:
		return "not-supported"
	default:
		return "unknown"
	}
}

// Error returns the sentinel error for the code.
func (c ErrorCode) Error() error {
	switch c {
	case CodeSuccess:
		return nil
	case CodeParameter:
		return ErrInvalidParameter
	case CodeState:
		return ErrInvalidState
	case CodeTimeout:
		return ErrTimeout
	case CodeCardBusy:
		return ErrCardBusy
	case CodeIllegalCard:
		return ErrIllegalCard
	case CodeCardStatus:
		return ErrCardStatus
	case CodeDMA:
		return ErrDMA
	case CodeTransfer:
		return ErrTransfer
	case CodeSizeOver:
		return ErrSizeOver
	case CodeNotSupported:
		return ErrNotSupported
	default:
		return ErrProtocol
	}
}

// CodeOf classifies err. Wrapped errors are matched with errors.Is; the most
// specific sentinel wins.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrInvalidParameter):
		return CodeParameter
	case errors.Is(err, ErrInvalidState):
		return CodeState
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrCardBusy):
		return CodeCardBusy
	case errors.Is(err, ErrIllegalCard):
		return CodeIllegalCard
	case errors.Is(err, ErrCardStatus):
		return CodeCardStatus
	case errors.Is(err, ErrProtocol):
		return CodeProtocol
	case errors.Is(err, ErrDMA):
		return CodeDMA
	case errors.Is(err, ErrTransfer):
		return CodeTransfer
	case errors.Is(err, ErrSizeOver):
		return CodeSizeOver
	case errors.Is(err, ErrNotSupported):
		return CodeNotSupported
	default:
		return CodeGeneric
	}
}
