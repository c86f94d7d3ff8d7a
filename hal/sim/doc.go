// Package sim provides a simulated SDHI controller with an attached eMMC
// card.
//
// The simulator implements [hal.Controller] and [hal.DMA] over an in-memory
// register file. Writing SD_CMD runs the command against a card state
// machine (idle, ready, ident, stby, tran, data, rcv), fills the response
// registers and raises SD_INFO1 and SD_INFO2 flags exactly as the driver
// expects from hardware. Block data moves through SD_BUF0 in 64-bit words
// or through the DMA channels programmed in the DM_CM registers.
//
// # Interrupts
//
// The interrupt line is level triggered. A dispatcher goroutine calls the
// handler installed with SetInterruptHandler whenever an enabled status bit
// is pending; the handler may read and write registers freely.
//
// # Fault Injection
//
// Tests steer error paths with the Inject methods and SetBusy, and observe
// the bus with Commands:
//
//	ctrl := sim.New(sim.DefaultConfig())
//	ctrl.InjectError(17, sdhi.INFO2_ERR1) // CRC error on the next CMD17
//	ctrl.InjectStatus(13, sim.StatusOutOfRange)
//
// [hal.Controller]: github.com/ardnew/softemmc/hal
// [hal.DMA]: github.com/ardnew/softemmc/hal
package sim
