package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/pkg"
)

// registerSlots covers every SDHI and DMA register offset.
const registerSlots = 0x900 / 8

// dmaBase is the first bus address handed out by MapBuffer.
const dmaBase = 0x4000_0000

// Reset values.
const (
	resetOption  = 0x40EE
	resetClkCtrl = 0x0020
)

// Config describes the simulated card.
type Config struct {
	Sectors       uint32 // User area size in sectors (EXT_CSD SEC_COUNT)
	BootSizeMulti uint8  // Boot partition size in 128 KiB units
	CardType      uint8  // EXT_CSD CARD_TYPE
	TranSpeed     uint8  // CSD TRAN_SPEED
	SpecVersion   uint8  // CSD SPEC_VERS
	ByteMode      bool   // Report byte addressing in the OCR
	ReadyAfter    int    // CMD1 polls answered busy before ready; negative never
	Version       uint32 // Controller VERSION register
}

// DefaultConfig returns a 4 GiB high-speed card that is ready on the first
// CMD1.
func DefaultConfig() Config {
	return Config{
		Sectors:       0x0076_0000,
		BootSizeMulti: 0x20,
		CardType:      0x03,
		TranSpeed:     0x32,
		SpecVersion:   4,
		Version:       0xCC10,
	}
}

// transfer is an open data phase.
type transfer struct {
	active bool
	write  bool
	ext    bool // CMD8, data is EXT_CSD
	part   uint8
	sector uint32
	count  uint32
	done   uint32
	off    int
	block  [blockSize]byte
}

// Controller implements hal.Controller and hal.DMA with an in-memory SDHI
// register file and an attached eMMC card.
//
// The interrupt line is level triggered: it is asserted while any enabled
// SD_INFO1, SD_INFO2 or DM_CM_INFO bit is set. The handler runs on a
// dispatcher goroutine started by SetInterruptHandler and is never called
// with the controller lock held.
type Controller struct {
	cfg Config

	mutex sync.Mutex
	regs  [registerSlots]uint64
	card  *card
	xfer  transfer

	initDone bool
	closed   bool
	powered  bool

	// Interrupt delivery
	handler   func()
	irq       chan struct{}
	closeCh   chan struct{}
	doneCh    chan struct{}
	started   bool
	closeOnce sync.Once

	// DMA mappings by bus address
	mapped   map[uint64][]byte
	nextAddr uint64

	// Fault injection
	injectInfo2  map[uint8]uint32
	injectStatus map[uint8]uint32
	busy         bool
	failDMA      bool
	eraseBusy    bool

	commands []uint8
}

// Compile-time interface checks.
var (
	_ hal.Controller = (*Controller)(nil)
	_ hal.DMA        = (*Controller)(nil)
)

// New creates a simulated controller with a card described by cfg.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:          cfg,
		card:         newCard(cfg),
		irq:          make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
		doneCh:       make(chan struct{}),
		mapped:       make(map[uint64][]byte),
		nextAddr:     dmaBase,
		injectInfo2:  make(map[uint8]uint32),
		injectStatus: make(map[uint8]uint32),
	}
}

// =============================================================================
// hal.Controller
// =============================================================================

// Init resets the register file.
func (c *Controller) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return pkg.ErrClosed
	}
	c.resetRegistersLocked()
	c.initDone = true
	return nil
}

// SetPower switches the card supply. Both edges reset the card.
func (c *Controller) SetPower(on bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return pkg.ErrClosed
	}
	if !c.initDone {
		return pkg.ErrInvalidState
	}
	c.powered = on
	c.xfer = transfer{}
	c.card.reset()
	pkg.LogDebug(pkg.ComponentHAL, "sim power", "on", on)
	return nil
}

// SetInterruptHandler attaches handler to the interrupt line and starts the
// dispatcher on first use.
func (c *Controller) SetInterruptHandler(handler func()) {
	c.mutex.Lock()
	c.handler = handler
	if handler != nil && !c.started && !c.closed {
		c.started = true
		go c.dispatch()
	}
	c.raiseLocked()
	c.mutex.Unlock()
}

// Close stops the dispatcher. It is safe to call more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		c.closed = true
		c.handler = nil
		started := c.started
		c.mutex.Unlock()

		close(c.closeCh)
		if started {
			<-c.doneCh
		}
	})
	return nil
}

// dispatch delivers the interrupt line to the handler.
func (c *Controller) dispatch() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.closeCh:
			return
		case <-c.irq:
		}
		c.service()
	}
}

// service calls the handler while the line is asserted. It stops when the
// handler leaves the line unchanged; any later register write that keeps
// the line asserted signals the dispatcher again.
func (c *Controller) service() {
	var last uint64
	for {
		c.mutex.Lock()
		handler := c.handler
		level := c.levelLocked()
		c.mutex.Unlock()

		if handler == nil || level == 0 || level == last {
			return
		}
		last = level
		handler()
	}
}

// levelLocked returns the enabled, pending interrupt bits.
func (c *Controller) levelLocked() uint64 {
	info1 := c.reg(sdhi.SD_INFO1) & c.reg(sdhi.SD_INFO1_MASK)
	info2 := c.reg(sdhi.SD_INFO2) & c.reg(sdhi.SD_INFO2_MASK)
	dm1 := c.reg(sdhi.DM_CM_INFO1) & c.reg(sdhi.DM_CM_INFO1_MASK)
	dm2 := c.reg(sdhi.DM_CM_INFO2) & c.reg(sdhi.DM_CM_INFO2_MASK)
	return info1 | info2<<16 | dm1<<32 | dm2<<40
}

// raiseLocked signals the dispatcher if the line is asserted.
func (c *Controller) raiseLocked() {
	if c.handler == nil || c.levelLocked() == 0 {
		return
	}
	select {
	case c.irq <- struct{}{}:
	default:
	}
}

// =============================================================================
// hal.Registers
// =============================================================================

// Read32 returns the low word of the register at offset.
func (c *Controller) Read32(offset uint32) uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch offset {
	case sdhi.SD_INFO2:
		value := uint32(c.reg(offset))
		if c.busy {
			value |= sdhi.INFO2_CBSY
		}
		return value
	case sdhi.VERSION:
		return c.cfg.Version
	default:
		return uint32(c.reg(offset))
	}
}

// Write32 stores the low word of the register at offset and applies its
// side effects.
func (c *Controller) Write32(offset uint32, value uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch offset {
	case sdhi.SD_INFO1:
		c.setReg(offset, c.reg(offset)&uint64(value))
	case sdhi.SD_INFO2:
		c.setReg(offset, c.reg(offset)&uint64(value&^(sdhi.INFO2_CLEAR|sdhi.INFO2_CBSY)))
	case sdhi.SD_CMD:
		c.setReg(offset, uint64(value))
		c.commandLocked(value)
	case sdhi.SD_STOP:
		c.setReg(offset, uint64(value))
		if value&1 != 0 {
			c.stopLocked()
		}
	case sdhi.SOFT_RST:
		c.setReg(offset, uint64(value))
		if value == sdhi.SOFT_RST_ASSERT {
			c.resetRegistersLocked()
		}
	case sdhi.DM_CM_DTRAN_CTRL:
		c.setReg(offset, uint64(value))
		if value&sdhi.DTRAN_CTRL_START != 0 {
			c.dmaLocked()
		}
	default:
		c.setReg(offset, uint64(value))
	}
	c.raiseLocked()
}

// Read64 returns the register at offset. Reading SD_BUF0 pops eight bytes
// from the read FIFO.
func (c *Controller) Read64(offset uint32) uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if offset != sdhi.SD_BUF0 {
		return c.reg(offset)
	}
	x := &c.xfer
	if !x.active || x.write {
		return 0
	}
	value := binary.LittleEndian.Uint64(x.block[x.off:])
	x.off += 8
	if x.off == blockSize {
		x.off = 0
		x.done++
		if x.done < x.count {
			c.loadLocked()
			c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)|sdhi.INFO2_BRE)
		} else {
			c.finishLocked()
		}
	}
	c.raiseLocked()
	return value
}

// Write64 stores the register at offset. Writing SD_BUF0 pushes eight bytes
// into the write FIFO.
func (c *Controller) Write64(offset uint32, value uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if offset != sdhi.SD_BUF0 {
		c.setReg(offset, value)
		c.raiseLocked()
		return
	}
	x := &c.xfer
	if !x.active || !x.write {
		return
	}
	binary.LittleEndian.PutUint64(x.block[x.off:], value)
	x.off += 8
	if x.off == blockSize {
		c.card.write(x.part, x.sector+x.done, x.block[:])
		x.off = 0
		x.done++
		if x.done < x.count {
			c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)|sdhi.INFO2_BWE)
		} else {
			c.finishLocked()
		}
	}
	c.raiseLocked()
}

func (c *Controller) reg(offset uint32) uint64 {
	if i := offset / 8; i < registerSlots {
		return c.regs[i]
	}
	return 0
}

func (c *Controller) setReg(offset uint32, value uint64) {
	if i := offset / 8; i < registerSlots {
		c.regs[i] = value
	}
}

func (c *Controller) resetRegistersLocked() {
	c.regs = [registerSlots]uint64{}
	c.setReg(sdhi.SD_OPTION, resetOption)
	c.setReg(sdhi.SD_CLK_CTRL, resetClkCtrl)
	c.xfer = transfer{}
}

// =============================================================================
// hal.DMA
// =============================================================================

// MapBuffer assigns buf a bus address. The simulated DMA engine accesses buf
// directly, so reads land in buf without a copy on unmap.
func (c *Controller) MapBuffer(buf []byte, dir hal.Direction) (uint64, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty DMA buffer", pkg.ErrInvalidParameter)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return 0, pkg.ErrClosed
	}
	addr := c.nextAddr
	c.nextAddr += uint64(len(buf)+blockSize-1) &^ (blockSize - 1)
	c.mapped[addr] = buf
	pkg.LogDebug(pkg.ComponentHAL, "sim map", "addr", addr, "size", len(buf), "dir", dir.String())
	return addr, nil
}

// UnmapBuffer releases the mapping at addr.
func (c *Controller) UnmapBuffer(addr uint64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.mapped[addr]; !ok {
		return fmt.Errorf("%w: address %#x not mapped", pkg.ErrInvalidParameter, addr)
	}
	delete(c.mapped, addr)
	return nil
}

// dmaLocked runs the DMA transfer programmed in DM_CM_DTRAN_MODE and
// DM_DTRAN_ADDR to completion.
func (c *Controller) dmaLocked() {
	channel := uint64(sdhi.DM_CH0)
	if c.reg(sdhi.DM_CM_DTRAN_MODE)&sdhi.DTRAN_MODE_CH1 != 0 {
		channel = sdhi.DM_CH1
	}
	x := &c.xfer
	buf, ok := c.mapped[c.reg(sdhi.DM_DTRAN_ADDR)]
	need := int(x.count-x.done) * blockSize

	if c.failDMA || !ok || !x.active || x.write != (channel == sdhi.DM_CH0) || len(buf) < need {
		c.failDMA = false
		c.setReg(sdhi.DM_CM_INFO1, c.reg(sdhi.DM_CM_INFO1)|channel)
		c.setReg(sdhi.DM_CM_INFO2, c.reg(sdhi.DM_CM_INFO2)|channel)
		return
	}

	for off := 0; x.done < x.count; off += blockSize {
		if x.write {
			c.card.write(x.part, x.sector+x.done, buf[off:off+blockSize])
		} else {
			c.loadLocked()
			copy(buf[off:off+blockSize], x.block[:])
		}
		x.done++
	}

	c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)&^(sdhi.INFO2_BRE|sdhi.INFO2_BWE))
	c.finishLocked()
	c.setReg(sdhi.DM_CM_INFO1, c.reg(sdhi.DM_CM_INFO1)|channel)
}

// =============================================================================
// Command execution
// =============================================================================

// commandLocked executes the command written to SD_CMD.
func (c *Controller) commandLocked(word uint32) {
	index := uint8(word & sdhi.CMD_INDEX_MASK)
	arg := uint32(c.reg(sdhi.SD_ARG))
	c.commands = append(c.commands, index)

	if !c.powered || c.reg(sdhi.SD_CLK_CTRL)&sdhi.CLK_ENABLE == 0 {
		c.noResponseLocked()
		return
	}
	if bits, ok := c.injectInfo2[index]; ok {
		delete(c.injectInfo2, index)
		c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)|uint64(bits))
		return
	}

	k := c.card
	state := k.state
	status := uint32(state)<<9 | statusReady | c.injectStatus[index]
	delete(c.injectStatus, index)

	switch index {
	case 0:
		k.reset()
		c.xfer = transfer{}
		c.respondLocked()

	case 1:
		if state != StateIdle && state != StateReady {
			c.noResponseLocked()
			return
		}
		k.polls++
		ocr := uint32(ocrBusy)
		if c.cfg.ReadyAfter >= 0 && k.polls > c.cfg.ReadyAfter {
			ocr |= ocrReady
			if !c.cfg.ByteMode {
				ocr |= ocrSectorMode
			}
			k.state = StateReady
		}
		c.respondWordLocked(ocr)

	case 2:
		if state != StateReady {
			c.noResponseLocked()
			return
		}
		k.state = StateIdent
		c.respondLongLocked(k.cid)

	case 3:
		if state != StateIdent {
			c.noResponseLocked()
			return
		}
		k.state = StateStandby
		c.respondWordLocked(status)

	case 9:
		if state != StateStandby || arg>>16 != relativeAddr {
			c.noResponseLocked()
			return
		}
		c.respondLongLocked(k.csd)

	case 7:
		if arg>>16 != relativeAddr {
			if state == StateTransfer {
				k.state = StateStandby
			}
			c.respondLocked()
			return
		}
		if state != StateStandby && state != StateTransfer {
			c.noResponseLocked()
			return
		}
		k.state = StateTransfer
		c.respondWordLocked(status)

	case 13:
		if state < StateStandby || arg>>16 != relativeAddr {
			c.noResponseLocked()
			return
		}
		if c.eraseBusy {
			c.eraseBusy = false
			status &^= statusReady
		}
		c.respondWordLocked(status)

	default:
		if state != StateTransfer {
			c.noResponseLocked()
			return
		}
		c.transferCommandLocked(index, arg, status)
	}
}

// transferCommandLocked executes commands accepted only in the transfer
// state.
func (c *Controller) transferCommandLocked(index uint8, arg, status uint32) {
	k := c.card
	switch index {
	case 6:
		if !k.switchByte(arg) {
			status |= StatusSwitchError
		}
		c.respondWordLocked(status)

	case 8:
		c.startLocked(status, transfer{ext: true, count: 1})

	case 16:
		if arg != blockSize {
			status |= StatusBlockLenErr
		} else {
			k.blockLen = arg
		}
		c.respondWordLocked(status)

	case 17, 18, 24, 25:
		count := uint32(1)
		if index == 18 || index == 25 {
			count = k.preset
			if count == 0 {
				count = uint32(c.reg(sdhi.SD_SECCNT))
			}
			k.preset = 0
		}
		if count == 0 || !k.inRange(arg, count) {
			c.respondWordLocked(status | StatusOutOfRange)
			return
		}
		c.startLocked(status, transfer{
			write:  index == 24 || index == 25,
			part:   k.partition(),
			sector: arg,
			count:  count,
		})

	case 23:
		k.preset = arg & 0xFFFF
		c.respondWordLocked(status)

	case 35, 36:
		if !k.inRange(arg, 1) {
			c.respondWordLocked(status | StatusOutOfRange)
			return
		}
		if index == 35 {
			k.eraseStart = arg
			k.eraseSet |= 1
		} else {
			k.eraseEnd = arg
			k.eraseSet |= 2
		}
		c.respondWordLocked(status)

	case 38:
		if k.eraseSet != 3 || k.eraseStart > k.eraseEnd {
			status |= StatusEraseParam
		} else {
			k.erase(k.eraseStart, k.eraseEnd)
		}
		k.eraseSet = 0
		c.respondWordLocked(status)

	default:
		c.noResponseLocked()
	}
}

// startLocked answers a data command and opens its data phase. A host bus
// width that differs from the card's, or a clock above 26 MHz without
// high-speed timing, corrupts the data and is reported as a CRC error.
func (c *Controller) startLocked(status uint32, x transfer) {
	if status&statusErrors != 0 {
		c.respondWordLocked(status)
		return
	}
	c.setResponseLocked(status)
	c.setReg(sdhi.SD_INFO1, c.reg(sdhi.SD_INFO1)|sdhi.INFO1_RESP_END)

	if c.hostWidthLocked() != c.card.busWidth() || c.overclockedLocked() {
		c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)|sdhi.INFO2_ERR1)
		return
	}

	x.active = true
	c.xfer = x
	if x.write {
		c.card.state = StateReceive
		c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)|sdhi.INFO2_BWE)
		return
	}
	c.card.state = StateData
	c.loadLocked()
	c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)|sdhi.INFO2_BRE)
}

// loadLocked fills the read FIFO with the next block.
func (c *Controller) loadLocked() {
	x := &c.xfer
	if x.ext {
		copy(x.block[:], c.card.extCSD[:])
		return
	}
	c.card.read(x.part, x.sector+x.done, x.block[:])
}

// finishLocked closes the data phase.
func (c *Controller) finishLocked() {
	c.xfer.active = false
	c.card.state = StateTransfer
	c.setReg(sdhi.SD_INFO1, c.reg(sdhi.SD_INFO1)|sdhi.INFO1_ACCESS_END)
}

// stopLocked aborts an open data phase.
func (c *Controller) stopLocked() {
	if !c.xfer.active {
		return
	}
	c.xfer = transfer{}
	c.card.state = StateTransfer
	c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)&^(sdhi.INFO2_BRE|sdhi.INFO2_BWE))
}

func (c *Controller) hostWidthLocked() int {
	option := c.reg(sdhi.SD_OPTION)
	switch {
	case option&sdhi.OPTION_WIDTH_1 != 0:
		return 1
	case option&sdhi.OPTION_WIDTH_8 != 0:
		return 8
	default:
		return 4
	}
}

func (c *Controller) overclockedLocked() bool {
	if c.card.extCSD[extHSTiming] != 0 {
		return false
	}
	switch c.reg(sdhi.SD_CLK_CTRL) & sdhi.CLK_DIV_MASK {
	case 0xFF, 0x00, 0x01:
		return true
	default:
		return false
	}
}

// respondLocked completes a command without response data.
func (c *Controller) respondLocked() {
	c.setReg(sdhi.SD_INFO1, c.reg(sdhi.SD_INFO1)|sdhi.INFO1_RESP_END|sdhi.INFO1_ACCESS_END)
}

// respondWordLocked completes a command with a 32-bit response.
func (c *Controller) respondWordLocked(word uint32) {
	c.setResponseLocked(word)
	c.respondLocked()
}

// respondLongLocked completes a command with an R2 response. image holds
// register bits 127:0 most significant byte first; bits 7:0 are not
// returned by the controller.
func (c *Controller) respondLongLocked(image [16]byte) {
	c.setReg(sdhi.SD_RSP10, uint64(binary.BigEndian.Uint32(image[11:15])))
	c.setReg(sdhi.SD_RSP32, uint64(binary.BigEndian.Uint32(image[7:11])))
	c.setReg(sdhi.SD_RSP54, uint64(binary.BigEndian.Uint32(image[3:7])))
	c.setReg(sdhi.SD_RSP76, uint64(image[0])<<16|uint64(image[1])<<8|uint64(image[2]))
	c.respondLocked()
}

func (c *Controller) setResponseLocked(word uint32) {
	c.setReg(sdhi.SD_RSP10, uint64(word))
	c.setReg(sdhi.SD_RSP1, uint64(word>>16))
}

// noResponseLocked reports a response timeout.
func (c *Controller) noResponseLocked() {
	c.setReg(sdhi.SD_INFO2, c.reg(sdhi.SD_INFO2)|sdhi.INFO2_ERR6)
}

// =============================================================================
// Test controls
// =============================================================================

// InjectError makes the next execution of command index fail with the given
// SD_INFO2 error bits instead of reaching the card.
func (c *Controller) InjectError(index uint8, info2 uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.injectInfo2[index] = info2
}

// InjectStatus adds bits to the R1 status of the next response to command
// index.
func (c *Controller) InjectStatus(index uint8, bits uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.injectStatus[index] = bits
}

// InjectDMAError makes the next DMA transfer report a channel error.
func (c *Controller) InjectDMAError() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failDMA = true
}

// SetBusy drives the SD_INFO2 CBSY status bit.
func (c *Controller) SetBusy(busy bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.busy = busy
}

// SetEraseBusy makes the next CMD13 report the card not ready for data.
func (c *Controller) SetEraseBusy() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.eraseBusy = true
}

// Commands returns the indexes of every command written to SD_CMD, in
// order.
func (c *Controller) Commands() []uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]uint8(nil), c.commands...)
}

// ClearCommands empties the command log.
func (c *Controller) ClearCommands() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.commands = nil
}

// Powered reports whether the card supply is on.
func (c *Controller) Powered() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.powered
}

// CardState returns the card state.
func (c *Controller) CardState() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.card.state
}

// Partition returns the partition selected by PARTITION_CONFIG.
func (c *Controller) Partition() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.card.partition()
}

// BusWidth returns the card's data bus width.
func (c *Controller) BusWidth() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.card.busWidth()
}

// ExtCSD returns a copy of the card's EXT_CSD.
func (c *Controller) ExtCSD() [512]byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.card.extCSD
}

// Block returns a copy of sector of partition part.
func (c *Controller) Block(part uint8, sector uint32) []byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	b := make([]byte, blockSize)
	c.card.read(part&0x07, sector, b)
	return b
}

// WriteBlock stores data as sector of partition part.
func (c *Controller) WriteBlock(part uint8, sector uint32, data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.card.write(part&0x07, sector, data)
}

// Mapped returns the number of live DMA mappings.
func (c *Controller) Mapped() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.mapped)
}
