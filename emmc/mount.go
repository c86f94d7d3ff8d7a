package emmc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/pkg"
)

// Init resets the controller, attaches the interrupt handler and puts the
// driver in its initial state. It must be called before Power.
func (d *Driver) Init(ctx context.Context) error {
	d.op.Lock()
	defer d.op.Unlock()

	if err := d.ctrl.Init(ctx); err != nil {
		d.recordError(FuncInit, err)
		return err
	}

	d.mu.Lock()
	d.initialize = false
	d.cardPower = false
	d.clockEnable = false
	d.selected = false
	d.mount = false
	d.currentFreq = 0
	d.maxFreq = Clock20MHz
	d.busWidth = 1
	d.hsTiming = TimingLegacy
	d.accessMode = false
	d.blocking = false
	d.duringTransfer = false
	d.duringDMA = false
	d.currentState = StateIdle
	d.errInfo = ErrorInfo{}

	r := d.regs
	r.Write32(sdhi.SOFT_RST, sdhi.SOFT_RST_ASSERT)
	r.Write32(sdhi.SOFT_RST, sdhi.SOFT_RST_RELEASE)
	r.Write32(sdhi.HOST_MODE, sdhi.HOST_MODE_64BIT)
	r.Write32(sdhi.DM_CM_RST, sdhi.DM_CM_RST_ASSERT)
	r.Write32(sdhi.DM_CM_RST, sdhi.DM_CM_RST_CLEAR)
	r.Write32(sdhi.SD_OPTION, sdhi.OPTION_DEFAULT)
	r.Write32(sdhi.SD_CLK_CTRL, r.Read32(sdhi.SD_CLK_CTRL)&^sdhi.CLK_ENABLE&sdhi.CLK_WRITE_MASK)
	d.disableInterruptsLocked()
	r.Write32(sdhi.DM_CM_INFO1, 0)
	r.Write32(sdhi.DM_CM_INFO2, 0)
	version := r.Read32(sdhi.VERSION)
	d.initialize = true
	d.mu.Unlock()

	d.ctrl.SetInterruptHandler(d.Interrupt)

	pkg.LogInfo(pkg.ComponentHAL, "controller initialized", "version", version)
	return nil
}

// Power switches the card supply rail. Switching it off stops the clock and
// drops the card out of the mounted state.
func (d *Driver) Power(ctx context.Context, on bool) error {
	d.op.Lock()
	defer d.op.Unlock()

	d.mu.Lock()
	initialized := d.initialize
	d.mu.Unlock()
	if !initialized {
		d.recordError(FuncPower, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !on {
		d.mu.Lock()
		if d.clockEnable {
			if err := d.clockCtrlLocked(false); err != nil {
				d.mu.Unlock()
				return err
			}
		}
		d.mount = false
		d.selected = false
		d.mu.Unlock()
	}

	if err := d.ctrl.SetPower(on); err != nil {
		d.recordError(FuncPower, err)
		return err
	}

	d.mu.Lock()
	d.cardPower = on
	d.mu.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "card power", "on", on)
	return nil
}

// Mount brings the card from idle to the transfer state at the fastest
// supported clock and an 8-bit bus.
func (d *Driver) Mount(ctx context.Context) error {
	d.op.Lock()
	defer d.op.Unlock()

	if err := d.checkReady(FuncMount); err != nil {
		return err
	}

	steps := []struct {
		fn  Func
		run func(context.Context) error
	}{
		{FuncCardInit, d.cardInit},
		{FuncHighSpeed, d.highSpeed},
		{FuncBusWidth, func(ctx context.Context) error { return d.setBusWidth(ctx, 8) }},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			d.recordFunc(step.fn)
			if cerr := d.clockCtrl(false); cerr != nil {
				pkg.LogWarn(pkg.ComponentMount, "clock off after failed mount", "error", cerr)
			}
			pkg.LogWarn(pkg.ComponentMount, "mount failed", "step", step.fn.String(), "error", err)
			return err
		}
	}

	d.mu.Lock()
	d.mount = true
	width, timing, freq := d.busWidth, d.hsTiming, d.currentFreq
	d.mu.Unlock()

	pkg.LogInfo(pkg.ComponentMount, "card mounted",
		"width", width, "timing", timing.String(), "divisor", uint32(freq))
	return nil
}

// Unmount returns the card to the idle state and stops the clock.
func (d *Driver) Unmount(ctx context.Context) error {
	d.op.Lock()
	defer d.op.Unlock()

	if err := d.sendIdle(ctx, 0); err != nil {
		return err
	}
	return d.clockCtrl(false)
}

// checkReady verifies the controller is initialized, the card powered and
// the card not signalling busy.
func (d *Driver) checkReady(fn Func) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialize || !d.cardPower || d.regs.Read32(sdhi.SD_INFO2)&sdhi.INFO2_CBSY != 0 {
		d.recordErrorLocked(fn, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}
	return nil
}

// exec prepares and runs a command without a data phase using the standard
// R1 error mask.
func (d *Driver) exec(ctx context.Context, cmd Command, arg uint32) error {
	d.makeNonTransCmd(cmd, arg)
	return d.execCmd(ctx, R1ErrorMask)
}

// readExtCSD refreshes the cached EXT_CSD with CMD8.
func (d *Driver) readExtCSD(ctx context.Context) error {
	var ext [ExtCSDSize]byte
	d.makeTransCmd(CmdSendExtCSD, 0, ext[:], hal.DirectionRead, ModePIO)
	if err := d.execCmd(ctx, R1ErrorMask); err != nil {
		return err
	}
	d.mu.Lock()
	d.extCSD = ext
	d.mu.Unlock()
	return nil
}

// cardInit runs identification: power-up poll, CID, RCA, CSD, selection,
// clock negotiation, block length and the first EXT_CSD read.
func (d *Driver) cardInit(ctx context.Context) error {
	if err := d.checkReady(FuncCardInit); err != nil {
		return err
	}

	d.mu.Lock()
	d.currentFreq = 0
	d.maxFreq = Clock20MHz
	d.mu.Unlock()

	if err := d.setRequestClock(Clock400KHz); err != nil {
		d.recordFunc(FuncCardInit)
		return err
	}

	if d.opts.resetOnInit {
		if err := d.sendIdle(ctx, 0); err != nil {
			d.recordFunc(FuncCardInit)
			return err
		}
	}

	// Power-up
	err := d.poll(ctx, d.opts.readyAttempts, d.opts.readyDelay, func() (bool, error) {
		if err := d.exec(ctx, CmdSendOpCond, ocrHostValue); err != nil {
			return false, err
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.r3OCR&ocrStatus != 0, nil
	})
	if err != nil {
		if errors.Is(err, pkg.ErrTimeout) {
			d.recordError(FuncCardInit, pkg.ErrTimeout)
		} else {
			d.recordFunc(FuncCardInit)
		}
		return err
	}

	d.mu.Lock()
	sector := d.r3OCR&ocrAccessModeMask == ocrAccessModeSector
	d.accessMode = sector
	d.mu.Unlock()
	if !sector {
		d.recordError(FuncCardInit, pkg.ErrIllegalCard)
		return fmt.Errorf("%w: byte access mode", pkg.ErrIllegalCard)
	}

	// Identification
	d.makeNonTransCmd(CmdAllSendCID, 0)
	d.redirectResponse(slotCID)
	if err := d.execCmd(ctx, R1ErrorMask); err != nil {
		d.recordFunc(FuncCardInit)
		return err
	}
	if err := d.exec(ctx, CmdSetRelativeAddr, rca<<16); err != nil {
		d.recordFunc(FuncCardInit)
		return err
	}
	d.makeNonTransCmd(CmdSendCSD, rca<<16)
	d.redirectResponse(slotCSD)
	if err := d.execCmd(ctx, R1ErrorMask); err != nil {
		d.recordFunc(FuncCardInit)
		return err
	}

	csd := d.CSD()
	if v := BitField(csd, csdSpecVersTop, csdSpecVersBottom); v < minSpecVersion {
		d.recordError(FuncCardInit, pkg.ErrIllegalCard)
		return fmt.Errorf("%w: SPEC_VERS %d", pkg.ErrIllegalCard, v)
	}

	if err := d.exec(ctx, CmdSelectCard, rca<<16); err != nil {
		d.recordFunc(FuncCardInit)
		return err
	}
	d.mu.Lock()
	d.selected = true
	d.mu.Unlock()

	// Clock
	tranSpeed := BitField(csd, csdTranSpeedTop, csdTranSpeedBottom)
	freq, ok := tranSpeedDivisor(tranSpeed)
	if !ok {
		d.recordError(FuncCardInit, pkg.ErrIllegalCard)
		return fmt.Errorf("%w: TRAN_SPEED %#02x", pkg.ErrIllegalCard, tranSpeed)
	}
	d.mu.Lock()
	d.maxFreq = freq
	d.mu.Unlock()
	if err := d.setRequestClock(freq); err != nil {
		d.recordFunc(FuncCardInit)
		return err
	}
	d.setDataTimeout(freq)

	// Block length
	if err := d.exec(ctx, CmdSetBlockLen, BlockSize); err != nil {
		d.recordFunc(FuncCardInit)
		return err
	}
	d.mu.Lock()
	d.regs.Write32(sdhi.SD_SIZE, BlockSize)
	d.mu.Unlock()

	if err := d.readExtCSD(ctx); err != nil {
		d.recordFunc(FuncCardInit)
		return err
	}

	pkg.LogDebug(pkg.ComponentMount, "card identified",
		"tranSpeed", tranSpeed, "divisor", uint32(freq))
	return nil
}

// highSpeed switches the card to high-speed timing when EXT_CSD CARD_TYPE
// allows it and raises the clock to match.
func (d *Driver) highSpeed(ctx context.Context) error {
	d.mu.Lock()
	selected := d.selected
	cardType := d.extCSD[extCSDCardType]
	d.mu.Unlock()
	if !selected {
		d.recordError(FuncHighSpeed, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}

	var freq Divisor
	switch {
	case cardType&cardType52MHz != 0:
		freq = Clock52MHz
	case cardType&cardType26MHz != 0:
		freq = Clock26MHz
	default:
		freq = Clock20MHz
	}

	timing := TimingLegacy
	if freq == Clock52MHz || freq == Clock26MHz {
		if err := d.exec(ctx, CmdSwitch, switchHSTiming); err != nil {
			d.recordFunc(FuncHighSpeed)
			return err
		}
		timing = TimingHighSpeed
	}

	d.mu.Lock()
	d.maxFreq = freq
	d.mu.Unlock()
	if err := d.setRequestClock(freq); err != nil {
		d.recordFunc(FuncHighSpeed)
		return err
	}
	d.setDataTimeout(freq)

	if err := d.exec(ctx, CmdSendStatus, rca<<16); err != nil {
		d.recordFunc(FuncHighSpeed)
		return err
	}

	// Timing is recorded only once CMD13 confirms the switch
	d.mu.Lock()
	d.hsTiming = timing
	d.mu.Unlock()
	return nil
}

// setBusWidth switches card and host to a 1, 4 or 8-bit data bus. On failure
// the driver falls back to 1-bit bookkeeping; the card may be left in an
// undefined bus mode, and recovery requires a new mount starting with CMD0.
func (d *Driver) setBusWidth(ctx context.Context, width int) error {
	if width != 1 && width != 4 && width != 8 {
		d.recordError(FuncBusWidth, pkg.ErrInvalidParameter)
		return fmt.Errorf("%w: bus width %d", pkg.ErrInvalidParameter, width)
	}

	d.mu.Lock()
	selected := d.selected
	d.mu.Unlock()
	if !selected {
		d.recordError(FuncBusWidth, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}

	err := d.exec(ctx, CmdSwitch, switchBusWidth|uint32(width>>2)<<8)
	if err == nil {
		d.mu.Lock()
		option := d.regs.Read32(sdhi.SD_OPTION) &^ sdhi.OPTION_WIDTH_MASK
		switch width {
		case 1:
			option |= sdhi.OPTION_WIDTH_1
		case 8:
			option |= sdhi.OPTION_WIDTH_8
		}
		d.regs.Write32(sdhi.SD_OPTION, option)
		d.mu.Unlock()

		err = d.exec(ctx, CmdSendStatus, rca<<16)
	}
	if err == nil {
		d.mu.Lock()
		d.busWidth = width
		d.mu.Unlock()
		err = d.readExtCSD(ctx)
	}
	if err != nil {
		d.mu.Lock()
		d.busWidth = 1
		d.mu.Unlock()
		d.recordError(FuncBusWidth, err)
		return err
	}

	pkg.LogDebug(pkg.ComponentMount, "bus width", "width", width)
	return nil
}

// SetExtCSD writes one EXT_CSD byte with CMD6, confirms with CMD13 and
// refreshes the cached EXT_CSD.
func (d *Driver) SetExtCSD(ctx context.Context, arg uint32) error {
	d.op.Lock()
	defer d.op.Unlock()
	return d.setExtCSD(ctx, arg)
}

func (d *Driver) setExtCSD(ctx context.Context, arg uint32) error {
	if err := d.exec(ctx, CmdSwitch, arg); err != nil {
		return err
	}
	if err := d.exec(ctx, CmdSendStatus, rca<<16); err != nil {
		return err
	}
	return d.readExtCSD(ctx)
}

// SendIdle issues CMD0 with arg, resets the link state to its power-on
// defaults and drops the clock to identification speed.
func (d *Driver) SendIdle(ctx context.Context, arg uint32) error {
	d.op.Lock()
	defer d.op.Unlock()
	return d.sendIdle(ctx, arg)
}

func (d *Driver) sendIdle(ctx context.Context, arg uint32) error {
	d.mu.Lock()
	d.mount = false
	d.selected = false
	d.duringTransfer = false
	d.duringDMA = false
	d.dmaError = false
	d.forceTerminate = false
	d.blocking = false
	d.busWidth = 1
	d.hsTiming = TimingLegacy
	d.maxFreq = Clock20MHz
	d.currentState = StateIdle
	d.mu.Unlock()

	if err := d.exec(ctx, CmdGoIdleState, arg); err != nil {
		return err
	}

	d.mu.Lock()
	option := d.regs.Read32(sdhi.SD_OPTION) &^ sdhi.OPTION_WIDTH_MASK
	d.regs.Write32(sdhi.SD_OPTION, option|sdhi.OPTION_WIDTH_1)
	d.mu.Unlock()

	return d.setRequestClock(Clock400KHz)
}
