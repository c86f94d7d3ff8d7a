// Package sdhi describes the register interface of the Renesas SD host
// interface (SDHI) and its internal DMA controller.
//
// Registers are 64 bits apart. All offsets are byte offsets from the
// controller base and are intended for use with [hal.Registers].
//
// [hal.Registers]: github.com/ardnew/softemmc/hal
package sdhi

// Register offsets.
const (
	SD_CMD        = 0x000 // Command
	SD_ARG        = 0x010 // Command argument
	SD_STOP       = 0x020 // Data stop
	SD_SECCNT     = 0x028 // Block count
	SD_RSP10      = 0x030 // Response bits 39:8
	SD_RSP1       = 0x038 // Response bits 39:24
	SD_RSP32      = 0x040 // Response bits 71:40
	SD_RSP54      = 0x050 // Response bits 103:72
	SD_RSP76      = 0x060 // Response bits 127:104
	SD_INFO1      = 0x070 // Interrupt flags 1
	SD_INFO2      = 0x078 // Interrupt flags 2
	SD_INFO1_MASK = 0x080 // Interrupt enable 1
	SD_INFO2_MASK = 0x088 // Interrupt enable 2
	SD_CLK_CTRL   = 0x090 // Card clock control
	SD_SIZE       = 0x098 // Block length
	SD_OPTION     = 0x0A0 // Access control option
	SD_ERR_STS1   = 0x0B0 // Error status 1
	SD_ERR_STS2   = 0x0B8 // Error status 2
	SD_BUF0       = 0x0C0 // Data FIFO
	SOFT_RST      = 0x380 // Software reset
	VERSION       = 0x388 // Controller version
	HOST_MODE     = 0x390 // Host interface mode

	DM_CM_DTRAN_MODE = 0x820 // DMA transfer mode
	DM_CM_DTRAN_CTRL = 0x828 // DMA transfer control
	DM_CM_RST        = 0x830 // DMA reset
	DM_CM_INFO1      = 0x840 // DMA status 1
	DM_CM_INFO1_MASK = 0x848 // DMA interrupt enable 1
	DM_CM_INFO2      = 0x850 // DMA status 2
	DM_CM_INFO2_MASK = 0x858 // DMA interrupt enable 2
	DM_DTRAN_ADDR    = 0x880 // DMA bus address
)

// SD_CMD bits.
const (
	CMD_INDEX_MASK = 0x3F
	CMD_RSP_BUSY   = 1 << 10 // Response with busy
	CMD_DATA       = 1 << 11 // Command has a data phase
	CMD_READ       = 1 << 12 // Data direction card to host
	CMD_MULTI      = 1 << 13 // Multiple block transfer
	CMD_SECCNT     = 1 << 14 // Block count from SD_SECCNT
)

// SD_INFO1 bits.
const (
	INFO1_RESP_END   = 1 << 0 // INFO0: response end
	INFO1_ACCESS_END = 1 << 2 // INFO2: access end
)

// SD_INFO2 bits.
const (
	INFO2_ERR0 = 1 << 0 // CMD error
	INFO2_ERR1 = 1 << 1 // CRC error
	INFO2_ERR2 = 1 << 2 // Stop bit error
	INFO2_ERR3 = 1 << 3 // Data timeout
	INFO2_ERR4 = 1 << 4 // Buffer overflow
	INFO2_ERR5 = 1 << 5 // Buffer underflow
	INFO2_ERR6 = 1 << 6 // Response timeout
	INFO2_BRE  = 1 << 8 // Buffer read enable
	INFO2_BWE  = 1 << 9 // Buffer write enable
	INFO2_CBSY = 1 << 14
	INFO2_ILA  = 1 << 15 // Illegal access

	INFO2_ALL_ERR = 0x807F
	INFO2_CLEAR   = 0x0800 // Reserved bit that must be written as one
)

// SD_CLK_CTRL bits.
const (
	CLK_DIV_MASK   = 0xFF
	CLK_ENABLE     = 1 << 8
	CLK_WRITE_MASK = 0x3FF
)

// SD_OPTION bits.
const (
	OPTION_TIMEOUT_MASK = 0xF0
	OPTION_WIDTH_8      = 1 << 13
	OPTION_WIDTH_1      = 1 << 15
	OPTION_WIDTH_MASK   = OPTION_WIDTH_1 | OPTION_WIDTH_8
	OPTION_DEFAULT      = 0x80EE // 1-bit bus, longest timeouts
)

// DMA channel bits in DM_CM_INFO1/DM_CM_INFO2 and their masks.
const (
	DM_CH0 = 1 << 16 // Channel 0, memory to card
	DM_CH1 = 1 << 17 // Channel 1, card to memory
)

// DMA control values.
const (
	DTRAN_MODE_CH0   = 0 << 16 // Channel 0 select
	DTRAN_MODE_CH1   = 1 << 16 // Channel 1 select
	DTRAN_MODE_BUS64 = 3 << 4  // 64-bit bus width
	DTRAN_MODE_INCR  = 1 << 0  // Address increment
	DTRAN_CTRL_START = 1 << 0  // DM_CM_DTRAN_CTRL start

	DM_CM_RST_ASSERT = 0x0000 // Channels held in reset
	DM_CM_RST_CLEAR  = 0x0300 // Channels released
)

// Reset and mode values.
const (
	SOFT_RST_ASSERT  = 0x0000 // Controller held in reset
	SOFT_RST_RELEASE = 0x0007 // Controller released
	HOST_MODE_64BIT  = 0x0000 // 64-bit FIFO access
)

// ClockDivisor returns the SD_CLK_CTRL divisor field for a clock divisor of
// the base clock. ok is false for unsupported divisors.
func ClockDivisor(div uint32) (field uint32, ok bool) {
	switch div {
	case 1:
		return 0xFF, true
	case 2:
		return 0x00, true
	case 4:
		return 0x01, true
	case 8:
		return 0x02, true
	case 16:
		return 0x04, true
	case 32:
		return 0x08, true
	case 64:
		return 0x10, true
	case 128:
		return 0x20, true
	case 256:
		return 0x40, true
	case 512:
		return 0x80, true
	default:
		return 0, false
	}
}

// DataTimeout returns the SD_OPTION timeout counter field for a clock
// divisor, or zero for unsupported divisors.
func DataTimeout(div uint32) uint32 {
	switch div {
	case 1, 2:
		return 0xE0 // SDCLK * 2^27
	case 4:
		return 0xD0
	case 8:
		return 0xC0
	case 16:
		return 0xB0
	case 32:
		return 0xA0
	case 64:
		return 0x90
	case 128:
		return 0x80
	case 256:
		return 0x70
	case 512:
		return 0x60 // SDCLK * 2^19
	default:
		return 0
	}
}
