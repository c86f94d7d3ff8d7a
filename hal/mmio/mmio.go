//go:build linux

package mmio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/pkg"
)

// Defaults.
const (
	DefaultPath         = "/dev/mem"
	DefaultSize         = 0x2000
	DefaultPollInterval = 50 * time.Microsecond

	// maxServicePasses bounds the handler calls per poll so that a stuck
	// status bit cannot starve Close.
	maxServicePasses = 64
)

// Config describes the register window and board hooks.
type Config struct {
	Path         string              // Memory device, DefaultPath if empty
	Base         int64               // Physical address of the SDHI registers, page aligned
	Size         int                 // Window length in bytes, DefaultSize if zero
	PollInterval time.Duration       // Status poll period, DefaultPollInterval if zero
	Power        func(on bool) error // Card supply rail switch; nil if the rail is fixed
}

// Controller implements hal.Controller on a memory-mapped SDHI.
type Controller struct {
	cfg  Config
	file *os.File
	mem  []byte

	mutex    sync.Mutex
	handler  func()
	initDone bool
	closed   bool
	closeCh  chan struct{}
	doneCh   chan struct{}
}

var _ hal.Controller = (*Controller)(nil)

// Open maps the register window described by cfg.
func Open(cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()
	if cfg.Base < 0 || cfg.Base%int64(os.Getpagesize()) != 0 {
		return nil, fmt.Errorf("%w: base %#x not page aligned", pkg.ErrInvalidParameter, cfg.Base)
	}
	if cfg.Size < sdhi.DM_DTRAN_ADDR+8 {
		return nil, fmt.Errorf("%w: window size %#x too small", pkg.ErrInvalidParameter, cfg.Size)
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), cfg.Base, cfg.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s at %#x: %w", cfg.Path, cfg.Base, err)
	}

	c := newController(mem, cfg)
	c.file = f
	pkg.LogInfo(pkg.ComponentHAL, "register window mapped",
		"path", cfg.Path, "base", cfg.Base, "size", cfg.Size)
	return c, nil
}

// newController wraps an existing mapping. The controller owns mem and
// unmaps it on Close.
func newController(mem []byte, cfg Config) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		mem:     mem,
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return cfg
}

// =============================================================================
// hal.Controller
// =============================================================================

// Init starts the status poller. Calling it again is a no-op.
func (c *Controller) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return pkg.ErrClosed
	}
	if !c.initDone {
		c.initDone = true
		go c.poll()
	}
	return nil
}

// SetPower switches the card supply through the board hook.
func (c *Controller) SetPower(on bool) error {
	c.mutex.Lock()
	closed, initDone := c.closed, c.initDone
	c.mutex.Unlock()

	switch {
	case closed:
		return pkg.ErrClosed
	case !initDone:
		return pkg.ErrInvalidState
	case c.cfg.Power == nil:
		return nil
	}
	return c.cfg.Power(on)
}

// SetInterruptHandler installs the handler called by the status poller.
func (c *Controller) SetInterruptHandler(handler func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handler = handler
}

// Close stops the poller and releases the mapping.
func (c *Controller) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	started := c.initDone
	c.handler = nil
	close(c.closeCh)
	c.mutex.Unlock()

	if started {
		<-c.doneCh
	}

	err := unix.Munmap(c.mem)
	c.mem = nil
	if c.file != nil {
		if cerr := c.file.Close(); err == nil {
			err = cerr
		}
		c.file = nil
	}
	return err
}

// =============================================================================
// hal.Registers
// =============================================================================

// Read32 returns the low word of the register at offset. Offsets outside
// the window read as zero.
func (c *Controller) Read32(offset uint32) uint32 {
	p := c.word32(offset)
	if p == nil {
		return 0
	}
	return atomic.LoadUint32(p)
}

// Write32 stores the low word of the register at offset.
func (c *Controller) Write32(offset uint32, value uint32) {
	if p := c.word32(offset); p != nil {
		atomic.StoreUint32(p, value)
	}
}

// Read64 returns the 64-bit register at offset.
func (c *Controller) Read64(offset uint32) uint64 {
	p := c.word64(offset)
	if p == nil {
		return 0
	}
	return atomic.LoadUint64(p)
}

// Write64 stores the 64-bit register at offset.
func (c *Controller) Write64(offset uint32, value uint64) {
	if p := c.word64(offset); p != nil {
		atomic.StoreUint64(p, value)
	}
}

func (c *Controller) word32(offset uint32) *uint32 {
	if offset%4 != 0 || int(offset)+4 > len(c.mem) {
		return nil
	}
	return (*uint32)(unsafe.Pointer(&c.mem[offset]))
}

func (c *Controller) word64(offset uint32) *uint64 {
	if offset%8 != 0 || int(offset)+8 > len(c.mem) {
		return nil
	}
	return (*uint64)(unsafe.Pointer(&c.mem[offset]))
}

// =============================================================================
// Status Poller
// =============================================================================

// poll samples the status registers until Close.
func (c *Controller) poll() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.service()
		}
	}
}

// service runs the handler while an enabled status bit is pending.
func (c *Controller) service() {
	for i := 0; i < maxServicePasses; i++ {
		c.mutex.Lock()
		handler := c.handler
		closed := c.closed
		c.mutex.Unlock()

		if handler == nil || closed || !c.pending() {
			return
		}
		handler()
	}
}

// pending reports whether any enabled interrupt status bit is set.
func (c *Controller) pending() bool {
	info1 := c.Read32(sdhi.SD_INFO1) & c.Read32(sdhi.SD_INFO1_MASK)
	info2 := c.Read32(sdhi.SD_INFO2) & c.Read32(sdhi.SD_INFO2_MASK) &^ sdhi.INFO2_CLEAR
	dm1 := c.Read32(sdhi.DM_CM_INFO1) & c.Read32(sdhi.DM_CM_INFO1_MASK)
	dm2 := c.Read32(sdhi.DM_CM_INFO2) & c.Read32(sdhi.DM_CM_INFO2_MASK)
	return info1|info2|dm1|dm2 != 0
}
