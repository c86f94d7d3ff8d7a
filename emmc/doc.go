// Package emmc implements an eMMC host driver for a Renesas SDHI controller.
//
// The driver takes a card from power-on to the transfer state, negotiates
// clock, timing and bus width, and then serves block reads and writes,
// erase and partition selection. Hardware access goes through the
// [hal.Controller] interface so the same driver runs against a memory-mapped
// controller or the simulator in [github.com/ardnew/softemmc/hal/sim].
//
// # Lifecycle
//
//	d := emmc.New(ctrl)
//	if err := d.Init(ctx); err != nil { ... }
//	if err := d.Power(ctx, true); err != nil { ... }
//	if err := d.Mount(ctx); err != nil { ... }
//	err := d.ReadSectors(ctx, buf, 0, emmc.ModeDMA)
//
// # Interrupts
//
// Every command is completed by the controller interrupt. Init attaches
// [Driver.Interrupt] to the controller, which calls it on its own goroutine.
// A command waits for the interrupt handler to release it, for a latched
// error, or for the command timeout, whichever comes first.
//
// # Errors
//
// Operations return errors wrapping the sentinels in
// [github.com/ardnew/softemmc/pkg]. The function and error code of the most
// recent failure, with a snapshot of the interrupt status registers, are
// available from [Driver.LastError]. Apart from the CMD1 power-up poll no
// operation retries; after a failed mount or bus width switch the card must
// be restarted from CMD0.
//
// [hal.Controller]: github.com/ardnew/softemmc/hal
package emmc
