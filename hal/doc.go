// Package hal defines the Hardware Abstraction Layer interface for the eMMC
// driver.
//
// The HAL provides a platform-agnostic interface between the driver and an
// SDHI host controller. Platform vendors implement this interface to run the
// softemmc driver on their specific hardware.
//
// # Design Principles
//
// The HAL is designed to be:
//
//   - Minimal: register access plus reset, power and the interrupt line
//   - Generic: no command or card state knowledge
//   - Non-blocking: every register access returns immediately
//
// The driver implements the whole eMMC protocol, leaving the HAL to handle
// only low-level hardware interactions.
//
// # Interface Overview
//
// The [Controller] interface defines the contract the driver requires:
//
//   - [Registers] for 32-bit and 64-bit register access by offset
//   - Init and Close for controller lifecycle
//   - SetPower for the card supply rail
//   - SetInterruptHandler to route the controller interrupt to the driver
//
// Controllers with a DMA engine additionally implement [DMA]. The driver
// detects it with a type assertion and falls back to PIO when it is absent.
//
// # Interrupt Delivery
//
// The handler installed with SetInterruptHandler is the driver's interrupt
// service routine. It reads and clears status registers through [Registers]
// and must never be called with a HAL lock held, since it writes registers
// itself.
//
// A simulated controller for testing is available in
// [github.com/ardnew/softemmc/hal/sim]; a Linux /dev/mem backend is available
// in [github.com/ardnew/softemmc/hal/mmio].
package hal
