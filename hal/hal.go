package hal

import (
	"context"
)

// Direction is the data direction of a card transfer, seen from the host.
type Direction uint8

// Transfer directions.
const (
	DirectionRead  Direction = iota // Card to memory
	DirectionWrite                  // Memory to card
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	switch d {
	case DirectionRead:
		return "read"
	case DirectionWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Registers is the register access layer of an SD host controller.
//
// Offsets are byte offsets from the controller base. Registers on the SDHI
// are 64 bits apart; 32-bit accesses use the low word of each slot. The data
// FIFO (SD_BUF0) is the only register accessed with 64-bit width.
//
// Implementations must not block and must be safe to call from the
// interrupt handler.
type Registers interface {
	// Read32 returns the 32-bit value of the register at offset.
	Read32(offset uint32) uint32

	// Write32 stores a 32-bit value into the register at offset.
	Write32(offset uint32, value uint32)

	// Read64 returns the 64-bit value of the register at offset.
	Read64(offset uint32) uint64

	// Write64 stores a 64-bit value into the register at offset.
	Write64(offset uint32, value uint64)
}

// Controller defines the Hardware Abstraction Layer for an SDHI host
// controller with a single attached eMMC device.
//
// The HAL exposes raw register access plus the few board-level services the
// driver cannot perform through registers: controller reset, the card supply
// rail and the interrupt line. All protocol logic lives in the driver.
type Controller interface {
	Registers

	// Init resets the host controller and puts it in a known idle state.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// SetPower switches the card supply rail.
	SetPower(on bool) error

	// SetInterruptHandler attaches handler to the controller interrupt line.
	// The handler is invoked on a goroutine owned by the HAL each time the
	// line is asserted. Passing nil detaches the current handler.
	SetInterruptHandler(handler func())

	// Close releases the controller. No method may be called afterwards.
	Close() error
}

// DMA is implemented by controllers that can move block data without the
// CPU. MapBuffer makes buf visible to the DMA engine and returns the bus
// address to program into DM_DTRAN_ADDR; UnmapBuffer releases the mapping
// and, for reads, makes the transferred data visible in buf.
type DMA interface {
	MapBuffer(buf []byte, dir Direction) (uint64, error)
	UnmapBuffer(addr uint64) error
}
