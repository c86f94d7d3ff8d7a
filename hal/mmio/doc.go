// Package mmio provides an SDHI controller HAL for Linux that drives the
// hardware registers through a /dev/mem mapping.
//
// The register window at Config.Base is mapped shared and uncached
// (O_SYNC); every access is a single aligned atomic load or store, so the
// driver sees the same register semantics it would on bare metal.
//
// # Requirements
//
// The process needs read/write access to the memory device, which usually
// means running as root on a kernel built without CONFIG_STRICT_DEVMEM, and
// the SDHI block must not be claimed by a kernel driver.
//
// # Interrupts
//
// A user-space process cannot take the controller interrupt, so the HAL
// polls the status registers. A goroutine started by Init samples SD_INFO1,
// SD_INFO2 and DM_CM_INFO1/2 against their enable masks every
// Config.PollInterval and calls the installed handler while an enabled bit
// is pending.
//
// # Limitations
//
// The HAL does not implement [hal.DMA]; user space has no physically
// contiguous buffers to hand the DMA engine. Use PIO transfers.
//
// [hal.DMA]: github.com/ardnew/softemmc/hal
package mmio
