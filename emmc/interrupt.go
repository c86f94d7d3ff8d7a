package emmc

import (
	"encoding/binary"
	"log/slog"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/pkg"
)

// Interrupt is the controller interrupt service routine. Attach it to the
// controller interrupt line; Init does so through SetInterruptHandler.
//
// Events are serviced in strict priority: errors, buffer ready (PIO), DMA
// channel 0, DMA channel 1, response end, access end. One event is handled
// per invocation; the line stays asserted while others remain.
func (d *Driver) Interrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := d.regs

	d.errInfo.Info1 = r.Read32(sdhi.SD_INFO1)
	d.errInfo.Info2 = r.Read32(sdhi.SD_INFO2)
	d.intEvent1 = d.errInfo.Info1 & r.Read32(sdhi.SD_INFO1_MASK)
	d.intEvent2 = d.errInfo.Info2 & r.Read32(sdhi.SD_INFO2_MASK)
	d.errInfo.Status1 = r.Read32(sdhi.SD_ERR_STS1)
	d.errInfo.Status2 = r.Read32(sdhi.SD_ERR_STS2)
	d.errInfo.DMInfo1 = r.Read32(sdhi.DM_CM_INFO1)
	d.errInfo.DMInfo2 = r.Read32(sdhi.DM_CM_INFO2)
	d.dmEvent1 = d.errInfo.DMInfo1 & r.Read32(sdhi.DM_CM_INFO1_MASK)
	d.dmEvent2 = d.errInfo.DMInfo2 & r.Read32(sdhi.DM_CM_INFO2_MASK)

	if pkg.LogEnabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentInterrupt, "interrupt",
			"info1", d.errInfo.Info1,
			"info2", d.errInfo.Info2,
			"event1", d.intEvent1,
			"event2", d.intEvent2,
			"dmEvent1", d.dmEvent1,
			"dmEvent2", d.dmEvent2)
	}

	switch {
	case d.intEvent2&sdhi.INFO2_ALL_ERR != 0:
		d.errBits |= d.intEvent2 & sdhi.INFO2_ALL_ERR
		d.disableInterruptsLocked()
		d.unblockLocked()

	case d.intEvent2&(sdhi.INFO2_BWE|sdhi.INFO2_BRE) != 0:
		if d.intEvent2&sdhi.INFO2_BWE != 0 {
			r.Write32(sdhi.SD_INFO2, r.Read32(sdhi.SD_INFO2)&^sdhi.INFO2_BWE)
		} else {
			r.Write32(sdhi.SD_INFO2, r.Read32(sdhi.SD_INFO2)&^sdhi.INFO2_BRE)
		}

		if n, err := d.transSector(); err != nil {
			d.recordErrorLocked(FuncNone, err)
			d.disableInterruptsLocked()
			d.forceTerminate = true
		} else {
			d.bufOff += n
			d.remainSize -= n
			if d.remainSize == 0 {
				d.duringTransfer = false
			}
		}
		d.unblockLocked()

	case d.dmEvent1&sdhi.DM_CH0 != 0:
		d.dmaDoneLocked(sdhi.DM_CH0, sdhi.INFO2_BWE)

	case d.dmEvent1&sdhi.DM_CH1 != 0:
		d.dmaDoneLocked(sdhi.DM_CH1, sdhi.INFO2_BRE)

	case d.intEvent1&sdhi.INFO1_RESP_END != 0:
		r.Write32(sdhi.SD_INFO1, r.Read32(sdhi.SD_INFO1)&^sdhi.INFO1_RESP_END)
		d.unblockLocked()

	case d.intEvent1&sdhi.INFO1_ACCESS_END != 0:
		r.Write32(sdhi.SD_INFO1, r.Read32(sdhi.SD_INFO1)&^sdhi.INFO1_ACCESS_END)
		d.unblockLocked()
	}
}

// dmaDoneLocked services completion of a DMA channel.
func (d *Driver) dmaDoneLocked(channel, bufferBit uint32) {
	r := d.regs
	r.Write32(sdhi.DM_CM_INFO1, 0)
	r.Write32(sdhi.DM_CM_INFO2, 0)
	r.Write32(sdhi.SD_INFO2, r.Read32(sdhi.SD_INFO2)&^bufferBit)

	if d.dmEvent2&channel != 0 {
		d.dmaError = true
	} else {
		d.duringDMA = false
		d.duringTransfer = false
	}
	d.unblockLocked()
}

// transSector moves one block, or what remains of the transfer if less,
// between the transfer buffer and the data FIFO in 64-bit words. It returns
// the number of bytes moved.
func (d *Driver) transSector() (uint32, error) {
	if !d.duringTransfer || d.remainSize == 0 {
		return 0, pkg.ErrInvalidState
	}
	if d.buf == nil || int(d.bufOff+d.remainSize) > len(d.buf) {
		return 0, pkg.ErrInvalidParameter
	}

	n := min(d.remainSize, BlockSize)
	block := d.buf[d.bufOff : d.bufOff+n]
	if d.cmd.dir == hal.DirectionWrite {
		for i := 0; i+8 <= len(block); i += 8 {
			d.regs.Write64(sdhi.SD_BUF0, binary.LittleEndian.Uint64(block[i:]))
		}
	} else {
		for i := 0; i+8 <= len(block); i += 8 {
			binary.LittleEndian.PutUint64(block[i:], d.regs.Read64(sdhi.SD_BUF0))
		}
	}
	return n, nil
}
