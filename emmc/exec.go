package emmc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/pkg"
)

// execCmd issues the prepared command and runs it to completion: response,
// data phase and busy release. errMask selects the R1 status bits treated as
// errors.
func (d *Driver) execCmd(ctx context.Context, errMask uint32) error {
	d.mu.Lock()
	if !d.clockEnable || d.blocking {
		d.mu.Unlock()
		d.recordError(FuncExecCommand, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}
	cmd := d.cmd
	transSize, mode := d.transSize, d.transferMode
	if cmd.hw == 0 && cmd.cmd.Index() != 0 {
		d.mu.Unlock()
		d.recordError(FuncExecCommand, pkg.ErrInvalidParameter)
		return fmt.Errorf("%w: CMD%d not supported by controller", pkg.ErrInvalidParameter, cmd.cmd.Index())
	}
	if d.regs.Read32(sdhi.SD_INFO2)&sdhi.INFO2_CBSY != 0 {
		d.mu.Unlock()
		d.recordError(FuncExecCommand, pkg.ErrCardBusy)
		return pkg.ErrCardBusy
	}

	d.errBits = 0
	d.forceTerminate = false
	d.dmaError = false
	d.duringTransfer = false
	d.duringDMA = false

	d.regs.Write32(sdhi.SD_INFO1, 0)
	d.regs.Write32(sdhi.SD_INFO2, sdhi.INFO2_CLEAR)
	d.armLocked()
	d.regs.Write32(sdhi.SD_INFO1_MASK, sdhi.INFO1_RESP_END)
	d.regs.Write32(sdhi.SD_INFO2_MASK, sdhi.INFO2_ALL_ERR|sdhi.INFO2_CLEAR)
	d.regs.Write32(sdhi.SD_ARG, cmd.arg)
	d.regs.Write32(sdhi.SD_CMD, cmd.hw)
	d.mu.Unlock()

	pkg.LogDebug(pkg.ComponentCommand, "command issued",
		"cmd", cmd.cmd.Index(), "arg", cmd.arg, "response", cmd.cmd.Response().String())

	// Response
	if err := d.waitHandoff(ctx); err != nil {
		return d.abort(err)
	}
	if err := d.interruptError(); err != nil {
		return d.abort(err)
	}
	if err := d.readResponse(errMask); err != nil {
		return d.abort(err)
	}

	// Data
	if cmd.cmd.HasData() && transSize > 0 {
		var err error
		if mode == ModeDMA {
			err = d.dmaPhase(ctx)
		} else {
			err = d.pioPhase(ctx)
		}
		if err != nil {
			return d.abort(err)
		}
	}

	// Busy release or end of data
	if cmd.cmd.Response() == ResponseR1b || cmd.cmd.HasData() {
		if err := d.waitAccessEnd(ctx); err != nil {
			return d.abort(err)
		}
	}

	d.mu.Lock()
	d.disableInterruptsLocked()
	d.mu.Unlock()

	pkg.LogDebug(pkg.ComponentCommand, "command complete", "cmd", cmd.cmd.Index())
	return nil
}

// armLocked marks the executor as waiting for the interrupt handler and
// discards any stale notification. It must precede the register write that
// can raise the awaited interrupt.
func (d *Driver) armLocked() {
	d.blocking = true
	select {
	case <-d.wake:
	default:
	}
}

// unblockLocked releases a waiting executor. Called from the interrupt
// handler.
func (d *Driver) unblockLocked() {
	d.blocking = false
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// wait blocks until done reports true or the interrupt handler latches a
// terminal condition. done is evaluated with d.mu held after every wake-up.
func (d *Driver) wait(ctx context.Context, done func() bool) error {
	timer := time.NewTimer(d.opts.commandTimeout)
	defer timer.Stop()

	for {
		d.mu.Lock()
		finished := done() || d.errBits != 0 || d.forceTerminate || d.dmaError
		d.mu.Unlock()
		if finished {
			return nil
		}

		select {
		case <-d.wake:
		case <-timer.C:
			return fmt.Errorf("%w: no interrupt within %v", pkg.ErrTimeout, d.opts.commandTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitHandoff waits until the interrupt handler clears the blocking flag.
func (d *Driver) waitHandoff(ctx context.Context) error {
	return d.wait(ctx, func() bool { return !d.blocking })
}

// waitAccessEnd waits for the access end interrupt that closes a data phase
// or a busy signal.
func (d *Driver) waitAccessEnd(ctx context.Context) error {
	d.mu.Lock()
	d.armLocked()
	d.regs.Write32(sdhi.SD_INFO1_MASK, sdhi.INFO1_ACCESS_END)
	d.regs.Write32(sdhi.SD_INFO2_MASK, sdhi.INFO2_ALL_ERR|sdhi.INFO2_CLEAR)
	d.mu.Unlock()

	if err := d.waitHandoff(ctx); err != nil {
		return err
	}
	return d.interruptError()
}

// interruptError converts the conditions latched by the interrupt handler
// into an error.
func (d *Driver) interruptError() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.errBits&sdhi.INFO2_ERR6 != 0:
		return fmt.Errorf("%w: response timeout (SD_INFO2 %#04x)", pkg.ErrTimeout, d.errBits)
	case d.errBits != 0:
		return fmt.Errorf("%w: SD_INFO2 %#04x, ERR_STS1 %#04x, ERR_STS2 %#04x",
			pkg.ErrProtocol, d.errBits, d.errInfo.Status1, d.errInfo.Status2)
	case d.forceTerminate:
		return pkg.ErrTransfer
	case d.dmaError:
		return pkg.ErrDMA
	default:
		return nil
	}
}

// readResponse copies the response registers into the command's response
// slot and checks R1 status against errMask.
func (d *Driver) readResponse(errMask uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.cmd.respLen {
	case 0:
		return nil
	case r2Length:
		var image [RegisterSize]byte
		rsp10 := d.regs.Read32(sdhi.SD_RSP10)
		rsp32 := d.regs.Read32(sdhi.SD_RSP32)
		rsp54 := d.regs.Read32(sdhi.SD_RSP54)
		rsp76 := d.regs.Read32(sdhi.SD_RSP76)
		binary.BigEndian.PutUint32(image[0:], rsp76<<8|rsp54>>24)
		binary.BigEndian.PutUint32(image[4:], rsp54<<8|rsp32>>24)
		binary.BigEndian.PutUint32(image[8:], rsp32<<8|rsp10>>24)
		binary.BigEndian.PutUint32(image[12:], rsp10<<8)

		switch d.cmd.slot {
		case slotCID:
			d.cid = image
		case slotCSD:
			d.csd = image
		default:
			copy(d.scratch[:], image[:])
		}
		return nil
	}

	word := d.regs.Read32(sdhi.SD_RSP10)
	switch d.cmd.slot {
	case slotOCR:
		d.r3OCR = word
	case slotR4:
		d.r4Resp = word
	case slotR5:
		d.r5Resp = word
	case slotCardStatus:
		d.r1Status = word
		d.currentState = CardState((word & r1StateMask) >> r1StateShift)
		if word&errMask != 0 {
			err := fmt.Errorf("%w (%w): CMD%d status %#08x",
				pkg.ErrCardStatus, pkg.ErrProtocol, d.cmd.cmd.Index(), word)
			d.recordErrorLocked(FuncExecCommand, err)
			return err
		}
	default:
		binary.BigEndian.PutUint32(d.scratch[:], word)
	}
	return nil
}

// pioPhase enables the buffer interrupt for the transfer direction and waits
// until the interrupt handler has moved every block.
func (d *Driver) pioPhase(ctx context.Context) error {
	d.mu.Lock()
	d.duringTransfer = true
	d.armLocked()
	d.regs.Write32(sdhi.SD_INFO1_MASK, 0)
	if d.cmd.dir == hal.DirectionWrite {
		d.regs.Write32(sdhi.SD_INFO2_MASK, sdhi.INFO2_BWE|sdhi.INFO2_ALL_ERR|sdhi.INFO2_CLEAR)
	} else {
		d.regs.Write32(sdhi.SD_INFO2_MASK, sdhi.INFO2_BRE|sdhi.INFO2_ALL_ERR|sdhi.INFO2_CLEAR)
	}
	d.mu.Unlock()

	err := d.wait(ctx, func() bool {
		return d.remainSize == 0 && !d.duringTransfer
	})
	if err != nil {
		return err
	}
	return d.interruptError()
}

// dmaPhase maps the transfer buffer, starts the DMA channel for the transfer
// direction and waits for channel completion.
func (d *Driver) dmaPhase(ctx context.Context) error {
	if d.dma == nil {
		return pkg.ErrNotSupported
	}

	addr, err := d.dma.MapBuffer(d.buf, d.cmd.dir)
	if err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrDMA, err)
	}
	defer func() {
		if err := d.dma.UnmapBuffer(addr); err != nil {
			pkg.LogWarn(pkg.ComponentTransfer, "unmap DMA buffer", "error", err)
		}
	}()

	var channel uint32 = sdhi.DM_CH1
	var mode uint64 = sdhi.DTRAN_MODE_CH1
	if d.cmd.dir == hal.DirectionWrite {
		channel = sdhi.DM_CH0
		mode = sdhi.DTRAN_MODE_CH0
	}

	d.mu.Lock()
	d.physAddr = addr
	d.duringTransfer = true
	d.duringDMA = true
	d.armLocked()
	d.regs.Write32(sdhi.DM_CM_INFO1, 0)
	d.regs.Write32(sdhi.DM_CM_INFO2, 0)
	d.regs.Write32(sdhi.DM_CM_INFO1_MASK, channel)
	d.regs.Write32(sdhi.DM_CM_INFO2_MASK, channel)
	d.regs.Write32(sdhi.SD_INFO1_MASK, 0)
	d.regs.Write32(sdhi.SD_INFO2_MASK, sdhi.INFO2_ALL_ERR|sdhi.INFO2_CLEAR)
	d.regs.Write64(sdhi.DM_CM_DTRAN_MODE, mode|sdhi.DTRAN_MODE_BUS64|sdhi.DTRAN_MODE_INCR)
	d.regs.Write64(sdhi.DM_DTRAN_ADDR, addr)
	d.regs.Write32(sdhi.DM_CM_DTRAN_CTRL, sdhi.DTRAN_CTRL_START)
	d.mu.Unlock()

	pkg.LogDebug(pkg.ComponentTransfer, "DMA started",
		"dir", d.cmd.dir.String(), "size", d.transSize, "addr", addr)

	if err := d.wait(ctx, func() bool { return !d.duringDMA }); err != nil {
		return err
	}
	if err := d.interruptError(); err != nil {
		return err
	}

	d.mu.Lock()
	d.remainSize = 0
	d.mu.Unlock()
	return nil
}

// abort tears down an unfinished command after err and records it.
func (d *Driver) abort(err error) error {
	d.mu.Lock()
	inData := d.duringTransfer || d.duringDMA
	d.disableInterruptsLocked()
	d.blocking = false
	d.duringTransfer = false
	d.duringDMA = false
	if inData {
		d.regs.Write32(sdhi.SD_STOP, 1)
		d.regs.Write32(sdhi.SD_STOP, 0)
	}
	if !errors.Is(err, pkg.ErrCardStatus) {
		d.recordErrorLocked(FuncExecCommand, err)
	}
	d.mu.Unlock()
	return err
}

// disableInterruptsLocked masks and clears every controller interrupt.
func (d *Driver) disableInterruptsLocked() {
	d.regs.Write32(sdhi.SD_INFO1_MASK, 0)
	d.regs.Write32(sdhi.SD_INFO2_MASK, sdhi.INFO2_CLEAR)
	d.regs.Write32(sdhi.DM_CM_INFO1_MASK, 0)
	d.regs.Write32(sdhi.DM_CM_INFO2_MASK, 0)
	d.regs.Write32(sdhi.SD_INFO1, 0)
	d.regs.Write32(sdhi.SD_INFO2, sdhi.INFO2_CLEAR)
}
