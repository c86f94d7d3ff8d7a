package emmc

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/pkg"
)

// Default tuning.
const (
	DefaultReadyAttempts  = 3000
	DefaultReadyDelay     = time.Millisecond
	DefaultCommandTimeout = 5 * time.Second
)

// Option configures a Driver.
type Option func(*options)

type options struct {
	readyAttempts  int
	readyDelay     time.Duration
	commandTimeout time.Duration
	resetOnInit    bool
	sleep          func(ctx context.Context, d time.Duration) error
}

// WithReadyPoll sets how many times CMD1 is issued while waiting for the card
// to finish power-up, and the delay between attempts.
func WithReadyPoll(attempts int, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.readyAttempts = attempts
		}
		if delay >= 0 {
			o.readyDelay = delay
		}
	}
}

// WithCommandTimeout bounds every wait for a controller interrupt.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.commandTimeout = timeout
		}
	}
}

// WithResetOnInit issues CMD0 before the CMD1 power-up poll.
func WithResetOnInit(reset bool) Option {
	return func(o *options) {
		o.resetOnInit = reset
	}
}

// WithSleep replaces the delay function used between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Driver is an eMMC host driver for one card behind an SDHI controller.
//
// Public operations are serialized; only one command is in flight at a
// time. Interrupt is the interrupt service routine and runs concurrently
// with them on the HAL's interrupt goroutine.
type Driver struct {
	ctrl hal.Controller
	regs hal.Registers
	dma  hal.DMA
	opts options

	// op serializes public operations.
	op sync.Mutex

	// mu guards everything below, shared with the interrupt handler.
	mu sync.Mutex

	// Card registers
	cid    [RegisterSize]byte
	csd    [RegisterSize]byte
	extCSD [ExtCSDSize]byte

	// Link state
	initialize  bool
	cardPower   bool
	clockEnable bool
	selected    bool
	mount       bool

	// Clock
	currentFreq Divisor
	maxFreq     Divisor
	dataTimeout uint32

	// Bus
	busWidth   int
	hsTiming   Timing
	accessMode bool // true for sector addressing

	// Command and responses
	cmd          cmdInfo
	scratch      [r2Length]byte
	r1Status     uint32
	r3OCR        uint32
	r4Resp       uint32
	r5Resp       uint32
	currentState CardState

	// Transfer
	buf            []byte
	bufOff         uint32
	physAddr       uint64
	transSize      uint32
	remainSize     uint32
	duringTransfer bool
	duringDMA      bool
	transferMode   TransferMode

	// Interrupt snapshot
	intEvent1 uint32
	intEvent2 uint32
	dmEvent1  uint32
	dmEvent2  uint32

	// Handoff between the executor and the interrupt handler
	blocking bool
	wake     chan struct{}

	// Terminal conditions latched by the interrupt handler
	errBits        uint32
	forceTerminate bool
	dmaError       bool

	errInfo ErrorInfo
}

// New creates a driver for ctrl. If ctrl also implements hal.DMA, DMA
// transfers are available.
func New(ctrl hal.Controller, opts ...Option) *Driver {
	d := &Driver{
		ctrl: ctrl,
		regs: ctrl,
		wake: make(chan struct{}, 1),
		opts: options{
			readyAttempts:  DefaultReadyAttempts,
			readyDelay:     DefaultReadyDelay,
			commandTimeout: DefaultCommandTimeout,
			sleep:          sleepContext,
		},
		busWidth: 1,
		maxFreq:  Clock20MHz,
	}
	if dma, ok := ctrl.(hal.DMA); ok {
		d.dma = dma
	}
	for _, opt := range opts {
		opt(&d.opts)
	}
	return d
}

// Close detaches the interrupt handler and stops the card clock. The
// controller itself is left open.
func (d *Driver) Close() error {
	d.op.Lock()
	defer d.op.Unlock()

	d.mu.Lock()
	if d.initialize {
		d.clockCtrlLocked(false)
	}
	d.initialize = false
	d.mount = false
	d.selected = false
	d.mu.Unlock()

	d.ctrl.SetInterruptHandler(nil)
	pkg.LogDebug(pkg.ComponentHAL, "driver closed")
	return nil
}

// Mounted reports whether the mount sequence completed.
func (d *Driver) Mounted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mount
}

// BusWidth returns the negotiated data bus width in bits.
func (d *Driver) BusWidth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busWidth
}

// HSTiming returns the negotiated interface timing.
func (d *Driver) HSTiming() Timing {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hsTiming
}

// Clock returns the current card clock divisor and whether the clock runs.
func (d *Driver) Clock() (Divisor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentFreq, d.clockEnable
}

// CardState returns the card state from the most recent R1 response.
func (d *Driver) CardState() CardState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentState
}

// ExtCSD returns a copy of the cached EXT_CSD register.
func (d *Driver) ExtCSD() [ExtCSDSize]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extCSD
}

// CID returns a copy of the card identification register.
func (d *Driver) CID() [RegisterSize]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cid
}

// CSD returns a copy of the card specific data register.
func (d *Driver) CSD() [RegisterSize]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.csd
}

// SpecVersion returns the CSD SPEC_VERS field.
func (d *Driver) SpecVersion() uint32 {
	return BitField(d.CSD(), csdSpecVersTop, csdSpecVersBottom)
}

// ExtCSDRevision returns the EXT_CSD_REV byte.
func (d *Driver) ExtCSDRevision() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extCSD[extCSDRevision]
}

// LastResponse returns the most recent command response.
func (d *Driver) LastResponse() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := Response{Type: d.cmd.cmd.Response()}
	switch d.cmd.slot {
	case slotCardStatus:
		r.Word = d.r1Status
	case slotOCR:
		r.Word = d.r3OCR
	case slotR4:
		r.Word = d.r4Resp
	case slotR5:
		r.Word = d.r5Resp
	case slotCID:
		r.Long = d.cid
	case slotCSD:
		r.Long = d.csd
	default:
		copy(r.Long[:], d.scratch[:RegisterSize])
	}
	return r
}
