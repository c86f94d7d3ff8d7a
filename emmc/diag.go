package emmc

import (
	"github.com/ardnew/softemmc/pkg"
)

// Func identifies the driver function that recorded an error.
type Func uint16

// Function numbers.
const (
	FuncNone Func = iota
	FuncInit
	FuncPower
	FuncMount
	FuncCardInit
	FuncHighSpeed
	FuncBusWidth
	FuncSetClock
	FuncExecCommand
	FuncSelectPartition
	FuncReadSector
	FuncWriteSector
	FuncEraseSector
)

// String returns a human-readable function name.
func (f Func) String() string {
	switch f {
	case FuncNone:
		return "none"
	case FuncInit:
		return "init"
	case FuncPower:
		return "power"
	case FuncMount:
		return "mount"
	case FuncCardInit:
		return "card-init"
	case FuncHighSpeed:
		return "high-speed"
	case FuncBusWidth:
		return "bus-width"
	case FuncSetClock:
		return "set-clock"
	case FuncExecCommand:
		return "exec-command"
	case FuncSelectPartition:
		return "select-partition"
	case FuncReadSector:
		return "read-sector"
	case FuncWriteSector:
		return "write-sector"
	case FuncEraseSector:
		return "erase-sector"
	default:
		return "unknown"
	}
}

// ErrorInfo is the diagnostic record of the most recent failure. The
// interrupt registers are the snapshot taken by the last interrupt.
type ErrorInfo struct {
	Func    Func
	Code    pkg.ErrorCode
	Info1   uint32 // SD_INFO1
	Info2   uint32 // SD_INFO2
	Status1 uint32 // SD_ERR_STS1
	Status2 uint32 // SD_ERR_STS2
	DMInfo1 uint32 // DM_CM_INFO1
	DMInfo2 uint32 // DM_CM_INFO2
}

// LastError returns a copy of the diagnostic record.
func (d *Driver) LastError() ErrorInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errInfo
}

// recordError overwrites the function number and error code of the
// diagnostic record.
func (d *Driver) recordError(fn Func, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordErrorLocked(fn, err)
}

func (d *Driver) recordErrorLocked(fn Func, err error) {
	d.errInfo.Func = fn
	d.errInfo.Code = pkg.CodeOf(err)
	pkg.LogWarn(pkg.ComponentCommand, "driver error",
		"func", fn.String(),
		"code", d.errInfo.Code.String(),
		"info1", d.errInfo.Info1,
		"info2", d.errInfo.Info2,
		"error", err)
}

// recordFunc overwrites only the function number, attributing an error
// already recorded by a callee to fn.
func (d *Driver) recordFunc(fn Func) {
	d.mu.Lock()
	d.errInfo.Func = fn
	d.mu.Unlock()
}
