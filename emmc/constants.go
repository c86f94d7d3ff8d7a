package emmc

// Block geometry.
const (
	BlockSize      = 512 // Sector and block length in bytes
	ExtCSDSize     = 512 // EXT_CSD register length in bytes
	RegisterSize   = 16  // CID and CSD register length in bytes
	r2Length       = 17  // R2 response length including the CRC slot
	maxBlockCount  = 0xFFFF
	bootSizeFactor = 256 // BOOT_SIZE_MULTI unit in sectors (128 KiB)
)

// WorkAreaSectors is the largest transfer, in sectors, that a single request
// may stage in memory.
const WorkAreaSectors = 0x100000

// Card relative address assigned during identification.
const rca = 1

// OCR bits.
const (
	ocrHostValue        = 0x40FF8080 // Sector mode, 2.7-3.6V
	ocrStatus           = 1 << 31    // Power-up complete
	ocrAccessModeMask   = 3 << 29
	ocrAccessModeSector = 2 << 29
)

// R1 card status bits.
const (
	R1ErrorMask    = 0xFDBFE080 // Error bits checked after every R1 response
	r1ReadyForData = 1 << 8
	r1StateMask    = 0x1E00
	r1StateShift   = 9
)

// EXT_CSD byte indexes.
const (
	extCSDPartitionConfig = 179
	extCSDBusWidth        = 183
	extCSDHSTiming        = 185
	extCSDRevision        = 192
	extCSDCardType        = 196
	extCSDSecCount        = 212 // 4 bytes, little endian
	extCSDBootSizeMulti   = 226
)

// EXT_CSD CARD_TYPE bits.
const (
	cardType26MHz = 1 << 0
	cardType52MHz = 1 << 1
)

// CMD6 SWITCH arguments (write byte access).
const (
	switchHSTiming        = 0x03B90100
	switchBusWidth        = 0x03B70000
	switchPartitionConfig = 0x03B30000
)

// PARTITION_CONFIG access field.
const partitionAccessMask = 0x07

// CSD fields.
const (
	csdSpecVersTop     = 125
	csdSpecVersBottom  = 122
	csdTranSpeedTop    = 103
	csdTranSpeedBottom = 96
	minSpecVersion     = 4
	tranSpeedUnitMask  = 0x07
	tranSpeedMultMask  = 0x78
	tranSpeedMultShift = 3
)

// Clock frequency thresholds in Hz.
const (
	freq52MHz = 52000000
	freq26MHz = 26000000
	freq20MHz = 20000000
)

// Divisor is a card clock divisor of the controller base clock.
type Divisor uint32

// Card clock settings.
const (
	Clock400KHz Divisor = 512
	Clock20MHz  Divisor = 16
	Clock26MHz  Divisor = 8
	Clock52MHz  Divisor = 4
)

// Timing is the card HS_TIMING mode.
type Timing uint8

// Timing modes.
const (
	TimingLegacy    Timing = iota // Backwards-compatible interface timing
	TimingHighSpeed               // High-speed interface timing
)

// String returns a human-readable timing name.
func (t Timing) String() string {
	switch t {
	case TimingLegacy:
		return "legacy"
	case TimingHighSpeed:
		return "high-speed"
	default:
		return "unknown"
	}
}

// CardState is the card state reported in bits 12:9 of an R1 response.
type CardState uint8

// Card states.
const (
	StateIdle CardState = iota
	StateReady
	StateIdent
	StateStandby
	StateTransfer
	StateData
	StateReceive
	StateProgram
	StateDisconnect
	StateBusTest
	StateSleep
)

// String returns a human-readable state name.
func (s CardState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateIdent:
		return "ident"
	case StateStandby:
		return "stby"
	case StateTransfer:
		return "tran"
	case StateData:
		return "data"
	case StateReceive:
		return "rcv"
	case StateProgram:
		return "prg"
	case StateDisconnect:
		return "dis"
	case StateBusTest:
		return "btst"
	case StateSleep:
		return "slp"
	default:
		return "unknown"
	}
}

// Partition identifies a hardware partition in PARTITION_CONFIG bits 2:0.
type Partition uint8

// Partitions.
const (
	PartitionUser Partition = iota
	PartitionBoot1
	PartitionBoot2
	PartitionRPMB
	PartitionGP1
	PartitionGP2
	PartitionGP3
	PartitionGP4
)

// String returns a human-readable partition name.
func (p Partition) String() string {
	switch p {
	case PartitionUser:
		return "user"
	case PartitionBoot1:
		return "boot1"
	case PartitionBoot2:
		return "boot2"
	case PartitionRPMB:
		return "rpmb"
	case PartitionGP1:
		return "gp1"
	case PartitionGP2:
		return "gp2"
	case PartitionGP3:
		return "gp3"
	case PartitionGP4:
		return "gp4"
	default:
		return "unknown"
	}
}

// TransferMode selects how block data moves between memory and the card.
type TransferMode uint8

// Transfer modes.
const (
	ModePIO TransferMode = iota // CPU copies through the data FIFO
	ModeDMA                     // Controller DMA channel
)

// String returns a human-readable mode name.
func (m TransferMode) String() string {
	switch m {
	case ModePIO:
		return "pio"
	case ModeDMA:
		return "dma"
	default:
		return "unknown"
	}
}
