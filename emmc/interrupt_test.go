package emmc

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/pkg"
)

// =============================================================================
// Mock Controller
// =============================================================================

// mockController is a register file without side effects. Reads of SD_BUF0
// pop from fifo; writes append to written.
type mockController struct {
	regs    map[uint32]uint64
	fifo    []uint64
	written []uint64
	handler func()
}

func newMockController() *mockController {
	return &mockController{regs: make(map[uint32]uint64)}
}

func (m *mockController) Read32(offset uint32) uint32 { return uint32(m.regs[offset]) }

func (m *mockController) Write32(offset uint32, value uint32) { m.regs[offset] = uint64(value) }

func (m *mockController) Read64(offset uint32) uint64 {
	if offset != sdhi.SD_BUF0 {
		return m.regs[offset]
	}
	if len(m.fifo) == 0 {
		return 0
	}
	v := m.fifo[0]
	m.fifo = m.fifo[1:]
	return v
}

func (m *mockController) Write64(offset uint32, value uint64) {
	if offset == sdhi.SD_BUF0 {
		m.written = append(m.written, value)
		return
	}
	m.regs[offset] = value
}

func (m *mockController) Init(ctx context.Context) error { return ctx.Err() }

func (m *mockController) SetPower(on bool) error { return nil }

func (m *mockController) SetInterruptHandler(handler func()) { m.handler = handler }

func (m *mockController) Close() error { return nil }

// drainWake consumes a pending wake-up and reports whether there was one.
func drainWake(d *Driver) bool {
	select {
	case <-d.wake:
		return true
	default:
		return false
	}
}

// =============================================================================
// PIO Servicing Tests
// =============================================================================

func TestInterrupt_PIORead(t *testing.T) {
	const blocks = 3

	m := newMockController()
	d := New(m)

	for i := 0; i < blocks*BlockSize/8; i++ {
		m.fifo = append(m.fifo, uint64(i)*0x0101010101010101)
	}
	want := make([]byte, blocks*BlockSize)
	for i, v := range m.fifo {
		binary.LittleEndian.PutUint64(want[i*8:], v)
	}

	d.makeTransCmd(CmdReadMultipleBlock, 0, make([]byte, blocks*BlockSize), hal.DirectionRead, ModePIO)
	d.duringTransfer = true
	m.regs[sdhi.SD_INFO2_MASK] = sdhi.INFO2_BRE | sdhi.INFO2_ALL_ERR | sdhi.INFO2_CLEAR

	for i := 1; i <= blocks; i++ {
		d.blocking = true
		m.regs[sdhi.SD_INFO2] = sdhi.INFO2_BRE
		d.Interrupt()

		if got := d.bufOff; got != uint32(i*BlockSize) {
			t.Errorf("block %d: bufOff = %d, want %d", i, got, i*BlockSize)
		}
		if got := d.remainSize; got != uint32((blocks-i)*BlockSize) {
			t.Errorf("block %d: remainSize = %d, want %d", i, got, (blocks-i)*BlockSize)
		}
		if got := d.duringTransfer; got != (i < blocks) {
			t.Errorf("block %d: duringTransfer = %v, want %v", i, got, i < blocks)
		}
		if m.regs[sdhi.SD_INFO2]&sdhi.INFO2_BRE != 0 {
			t.Errorf("block %d: BRE not cleared", i)
		}
		if d.blocking || !drainWake(d) {
			t.Errorf("block %d: executor not released", i)
		}
	}

	if string(d.buf) != string(want) {
		t.Error("buffer contents differ from FIFO data")
	}
	if len(m.fifo) != 0 {
		t.Errorf("%d FIFO words left unread", len(m.fifo))
	}

	// A buffer event after the last block terminates the transfer
	m.regs[sdhi.SD_INFO2] = sdhi.INFO2_BRE
	d.Interrupt()
	if !d.forceTerminate {
		t.Error("forceTerminate not set by extra BRE")
	}
	if got := m.regs[sdhi.SD_INFO2_MASK]; got != sdhi.INFO2_CLEAR {
		t.Errorf("SD_INFO2_MASK = %#x, want interrupts disabled", got)
	}
	if !errors.Is(d.interruptError(), pkg.ErrTransfer) {
		t.Errorf("interruptError() = %v, want ErrTransfer", d.interruptError())
	}
}

func TestInterrupt_PIOWrite(t *testing.T) {
	m := newMockController()
	d := New(m)

	data := testPattern(2, 0x10)
	d.makeTransCmd(CmdWriteMultipleBlock, 0, data, hal.DirectionWrite, ModePIO)
	d.duringTransfer = true
	m.regs[sdhi.SD_INFO2_MASK] = sdhi.INFO2_BWE | sdhi.INFO2_ALL_ERR | sdhi.INFO2_CLEAR

	for i := 0; i < 2; i++ {
		m.regs[sdhi.SD_INFO2] = sdhi.INFO2_BWE
		d.Interrupt()
		if m.regs[sdhi.SD_INFO2]&sdhi.INFO2_BWE != 0 {
			t.Errorf("block %d: BWE not cleared", i)
		}
	}

	if len(m.written) != len(data)/8 {
		t.Fatalf("wrote %d words, want %d", len(m.written), len(data)/8)
	}
	for i, v := range m.written {
		if want := binary.LittleEndian.Uint64(data[i*8:]); v != want {
			t.Fatalf("word %d = %#x, want %#x", i, v, want)
		}
	}
	if d.duringTransfer || d.remainSize != 0 {
		t.Errorf("duringTransfer = %v, remainSize = %d after last block", d.duringTransfer, d.remainSize)
	}
}

// =============================================================================
// Event Priority Tests
// =============================================================================

func TestInterrupt_Priority(t *testing.T) {
	tests := []struct {
		name    string
		info1   uint32
		info2   uint32
		dm1     uint32
		dm2     uint32
		mask1   uint32
		mask2   uint32
		dmMask  uint32
		check   func(t *testing.T, d *Driver, m *mockController)
		release bool
	}{
		{
			name:    "error before response",
			info1:   sdhi.INFO1_RESP_END,
			info2:   sdhi.INFO2_ERR3,
			mask1:   sdhi.INFO1_RESP_END,
			mask2:   sdhi.INFO2_ALL_ERR | sdhi.INFO2_CLEAR,
			release: true,
			check: func(t *testing.T, d *Driver, m *mockController) {
				if d.errBits != sdhi.INFO2_ERR3 {
					t.Errorf("errBits = %#x, want ERR3", d.errBits)
				}
				if m.regs[sdhi.SD_INFO1_MASK] != 0 {
					t.Error("SD_INFO1_MASK not cleared")
				}
			},
		},
		{
			name:    "masked error ignored",
			info1:   sdhi.INFO1_RESP_END,
			info2:   sdhi.INFO2_ERR3,
			mask1:   sdhi.INFO1_RESP_END,
			mask2:   sdhi.INFO2_CLEAR,
			release: true,
			check: func(t *testing.T, d *Driver, m *mockController) {
				if d.errBits != 0 {
					t.Errorf("errBits = %#x, want 0", d.errBits)
				}
				if m.regs[sdhi.SD_INFO1]&sdhi.INFO1_RESP_END != 0 {
					t.Error("RESP_END not cleared")
				}
			},
		},
		{
			name:    "DMA before response",
			info1:   sdhi.INFO1_RESP_END,
			info2:   sdhi.INFO2_BWE,
			dm1:     sdhi.DM_CH0,
			mask1:   sdhi.INFO1_RESP_END,
			mask2:   sdhi.INFO2_ALL_ERR | sdhi.INFO2_CLEAR,
			dmMask:  sdhi.DM_CH0,
			release: true,
			check: func(t *testing.T, d *Driver, m *mockController) {
				if d.duringDMA || d.duringTransfer {
					t.Error("DMA still marked active")
				}
				if d.dmaError {
					t.Error("dmaError set on clean completion")
				}
				if m.regs[sdhi.SD_INFO2]&sdhi.INFO2_BWE != 0 {
					t.Error("BWE not cleared")
				}
				if m.regs[sdhi.DM_CM_INFO1] != 0 {
					t.Error("DM_CM_INFO1 not cleared")
				}
				if m.regs[sdhi.SD_INFO1]&sdhi.INFO1_RESP_END == 0 {
					t.Error("RESP_END serviced ahead of DMA")
				}
			},
		},
		{
			name:    "DMA channel error",
			info2:   sdhi.INFO2_BRE,
			dm1:     sdhi.DM_CH1,
			dm2:     sdhi.DM_CH1,
			mask2:   sdhi.INFO2_ALL_ERR | sdhi.INFO2_CLEAR,
			dmMask:  sdhi.DM_CH1,
			release: true,
			check: func(t *testing.T, d *Driver, m *mockController) {
				if !d.dmaError {
					t.Error("dmaError not set")
				}
				if !d.duringDMA {
					t.Error("duringDMA cleared on failure")
				}
				if d.errInfo.DMInfo2 != sdhi.DM_CH1 {
					t.Errorf("DMInfo2 = %#x, want channel 1", d.errInfo.DMInfo2)
				}
			},
		},
		{
			name:    "response before access end",
			info1:   sdhi.INFO1_RESP_END | sdhi.INFO1_ACCESS_END,
			mask1:   sdhi.INFO1_RESP_END | sdhi.INFO1_ACCESS_END,
			release: true,
			check: func(t *testing.T, d *Driver, m *mockController) {
				if got := m.regs[sdhi.SD_INFO1]; got != sdhi.INFO1_ACCESS_END {
					t.Errorf("SD_INFO1 = %#x, want ACCESS_END only", got)
				}
			},
		},
		{
			name:    "access end",
			info1:   sdhi.INFO1_ACCESS_END,
			mask1:   sdhi.INFO1_ACCESS_END,
			release: true,
			check: func(t *testing.T, d *Driver, m *mockController) {
				if got := m.regs[sdhi.SD_INFO1]; got != 0 {
					t.Errorf("SD_INFO1 = %#x, want 0", got)
				}
			},
		},
		{
			name:  "no enabled event",
			info1: sdhi.INFO1_ACCESS_END,
			mask1: sdhi.INFO1_RESP_END,
			check: func(t *testing.T, d *Driver, m *mockController) {
				if got := m.regs[sdhi.SD_INFO1]; got != sdhi.INFO1_ACCESS_END {
					t.Errorf("SD_INFO1 = %#x, want untouched", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockController()
			d := New(m)
			d.duringTransfer = tt.dm1 != 0
			d.duringDMA = tt.dm1 != 0
			d.blocking = true

			m.regs[sdhi.SD_INFO1] = uint64(tt.info1)
			m.regs[sdhi.SD_INFO2] = uint64(tt.info2)
			m.regs[sdhi.DM_CM_INFO1] = uint64(tt.dm1)
			m.regs[sdhi.DM_CM_INFO2] = uint64(tt.dm2)
			m.regs[sdhi.SD_INFO1_MASK] = uint64(tt.mask1)
			m.regs[sdhi.SD_INFO2_MASK] = uint64(tt.mask2)
			m.regs[sdhi.DM_CM_INFO1_MASK] = uint64(tt.dmMask)
			m.regs[sdhi.DM_CM_INFO2_MASK] = uint64(tt.dmMask)

			d.Interrupt()

			if released := !d.blocking; released != tt.release {
				t.Errorf("released = %v, want %v", released, tt.release)
			}
			if woke := drainWake(d); woke != tt.release {
				t.Errorf("wake-up sent = %v, want %v", woke, tt.release)
			}
			if d.errInfo.Info1 != tt.info1 || d.errInfo.Info2 != tt.info2 {
				t.Errorf("snapshot = %#x/%#x, want %#x/%#x", d.errInfo.Info1, d.errInfo.Info2, tt.info1, tt.info2)
			}
			tt.check(t, d, m)
		})
	}
}

// =============================================================================
// transSector Tests
// =============================================================================

func TestTransSector(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(d *Driver)
		want   uint32
		err    error
		writes int
	}{
		{
			name:  "not transferring",
			setup: func(d *Driver) { d.remainSize = BlockSize },
			err:   pkg.ErrInvalidState,
		},
		{
			name: "nothing remaining",
			setup: func(d *Driver) {
				d.duringTransfer = true
				d.buf = make([]byte, BlockSize)
			},
			err: pkg.ErrInvalidState,
		},
		{
			name: "no buffer",
			setup: func(d *Driver) {
				d.duringTransfer = true
				d.remainSize = BlockSize
			},
			err: pkg.ErrInvalidParameter,
		},
		{
			name: "buffer too short",
			setup: func(d *Driver) {
				d.duringTransfer = true
				d.buf = make([]byte, BlockSize)
				d.bufOff = BlockSize
				d.remainSize = BlockSize
			},
			err: pkg.ErrInvalidParameter,
		},
		{
			name: "one block",
			setup: func(d *Driver) {
				d.duringTransfer = true
				d.cmd.dir = hal.DirectionWrite
				d.buf = make([]byte, 2*BlockSize)
				d.bufOff = BlockSize
				d.remainSize = BlockSize
			},
			want:   BlockSize,
			writes: BlockSize / 8,
		},
		{
			name: "capped at one block",
			setup: func(d *Driver) {
				d.duringTransfer = true
				d.cmd.dir = hal.DirectionWrite
				d.buf = make([]byte, 4*BlockSize)
				d.remainSize = 4 * BlockSize
			},
			want:   BlockSize,
			writes: BlockSize / 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockController()
			d := New(m)
			tt.setup(d)

			n, err := d.transSector()
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("transSector() error = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("transSector() error = %v", err)
			}
			if n != tt.want {
				t.Errorf("transSector() = %d, want %d", n, tt.want)
			}
			if len(m.written) != tt.writes {
				t.Errorf("wrote %d words, want %d", len(m.written), tt.writes)
			}
		})
	}
}

// =============================================================================
// Executor Tests
// =============================================================================

func TestExecCmd_Preconditions(t *testing.T) {
	t.Run("clock stopped", func(t *testing.T) {
		d := New(newMockController())
		d.makeNonTransCmd(CmdSendStatus, rca<<16)

		if err := d.execCmd(context.Background(), R1ErrorMask); !errors.Is(err, pkg.ErrInvalidState) {
			t.Errorf("execCmd = %v, want ErrInvalidState", err)
		}
		if got := d.LastError().Func; got != FuncExecCommand {
			t.Errorf("LastError().Func = %v, want %v", got, FuncExecCommand)
		}
	})

	t.Run("already blocking", func(t *testing.T) {
		d := New(newMockController())
		d.clockEnable = true
		d.blocking = true
		d.makeNonTransCmd(CmdSendStatus, rca<<16)

		if err := d.execCmd(context.Background(), R1ErrorMask); !errors.Is(err, pkg.ErrInvalidState) {
			t.Errorf("execCmd = %v, want ErrInvalidState", err)
		}
	})
}

func TestExecCmd_Handoff(t *testing.T) {
	m := newMockController()
	d := New(m, WithCommandTimeout(2*time.Second))
	d.clockEnable = true

	// The mock never raises the line; the handler is run by hand once the
	// command word lands.
	done := make(chan error, 1)
	d.makeNonTransCmd(CmdSendStatus, rca<<16)
	go func() {
		done <- d.execCmd(context.Background(), R1ErrorMask)
	}()

	for {
		d.mu.Lock()
		issued := m.regs[sdhi.SD_CMD] != 0
		if issued {
			m.regs[sdhi.SD_RSP10] = uint64(StateTransfer)<<r1StateShift | r1ReadyForData
			m.regs[sdhi.SD_INFO1] = sdhi.INFO1_RESP_END
		}
		d.mu.Unlock()
		if issued {
			break
		}
	}
	d.Interrupt()

	if err := <-done; err != nil {
		t.Fatalf("execCmd failed: %v", err)
	}
	if got := d.CardState(); got != StateTransfer {
		t.Errorf("CardState() = %v, want %v", got, StateTransfer)
	}
	if got := m.regs[sdhi.SD_ARG]; got != rca<<16 {
		t.Errorf("SD_ARG = %#x, want %#x", got, rca<<16)
	}
	if got := m.regs[sdhi.SD_INFO1_MASK]; got != 0 {
		t.Errorf("SD_INFO1_MASK = %#x after completion, want 0", got)
	}
}
