package emmc

import (
	"fmt"

	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/pkg"
)

// SetRequestClock sets the card clock divisor and starts the clock. It is a
// no-op if the clock already runs at freq.
func (d *Driver) SetRequestClock(freq Divisor) error {
	d.op.Lock()
	defer d.op.Unlock()
	return d.setRequestClock(freq)
}

func (d *Driver) setRequestClock(freq Divisor) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialize || !d.cardPower {
		d.recordErrorLocked(FuncSetClock, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}
	if d.clockEnable && d.currentFreq == freq {
		return nil
	}
	field, ok := sdhi.ClockDivisor(uint32(freq))
	if !ok {
		d.recordErrorLocked(FuncSetClock, pkg.ErrInvalidParameter)
		return fmt.Errorf("%w: clock divisor %d", pkg.ErrInvalidParameter, freq)
	}
	if d.regs.Read32(sdhi.SD_INFO2)&sdhi.INFO2_CBSY != 0 {
		d.recordErrorLocked(FuncSetClock, pkg.ErrCardBusy)
		return pkg.ErrCardBusy
	}

	value := d.regs.Read32(sdhi.SD_CLK_CTRL) &^ sdhi.CLK_DIV_MASK
	d.regs.Write32(sdhi.SD_CLK_CTRL, value|field)
	d.currentFreq = freq
	d.clockEnable = false

	pkg.LogDebug(pkg.ComponentMount, "card clock", "divisor", uint32(freq))
	return d.clockCtrlLocked(true)
}

// clockCtrl gates the card clock on or off.
func (d *Driver) clockCtrl(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clockCtrlLocked(on)
}

func (d *Driver) clockCtrlLocked(on bool) error {
	if d.regs.Read32(sdhi.SD_INFO2)&sdhi.INFO2_CBSY != 0 {
		d.recordErrorLocked(FuncSetClock, pkg.ErrCardBusy)
		return pkg.ErrCardBusy
	}

	value := d.regs.Read32(sdhi.SD_CLK_CTRL)
	if on {
		value |= sdhi.CLK_ENABLE
	} else {
		value &^= sdhi.CLK_ENABLE
	}
	d.regs.Write32(sdhi.SD_CLK_CTRL, value&sdhi.CLK_WRITE_MASK)
	d.clockEnable = on
	return nil
}

// setDataTimeout programs the SD_OPTION data timeout for freq.
func (d *Driver) setDataTimeout(freq Divisor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dataTimeout = sdhi.DataTimeout(uint32(freq))
	option := d.regs.Read32(sdhi.SD_OPTION) &^ sdhi.OPTION_TIMEOUT_MASK
	d.regs.Write32(sdhi.SD_OPTION, option|d.dataTimeout)
}

// tranSpeedDivisor maps a CSD TRAN_SPEED code to the fastest supported clock
// at or below the card's maximum. ok is false when the code encodes zero.
func tranSpeedDivisor(tranSpeed uint32) (Divisor, bool) {
	unit := [8]uint32{10000, 100000, 1000000, 10000000, 0, 0, 0, 0}
	mult := [16]uint32{0, 10, 12, 13, 15, 20, 26, 30, 35, 40, 45, 52, 55, 60, 70, 80}

	maxFreq := unit[tranSpeed&tranSpeedUnitMask] * mult[(tranSpeed&tranSpeedMultMask)>>tranSpeedMultShift]
	switch {
	case maxFreq == 0:
		return 0, false
	case maxFreq >= freq52MHz:
		return Clock52MHz, true
	case maxFreq >= freq26MHz:
		return Clock26MHz, true
	case maxFreq >= freq20MHz:
		return Clock20MHz, true
	default:
		return Clock400KHz, true
	}
}
