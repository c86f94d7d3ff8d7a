package emmc

import (
	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sdhi"
)

// Command is an eMMC command descriptor. It packs the command index
// (bits 5:0), the response type (bits 15:8) and the command type
// (bits 23:16).
type Command uint32

// ResponseType is the response format of a command.
type ResponseType uint32

// Response types.
const (
	ResponseNone ResponseType = 0x000
	ResponseR1   ResponseType = 0x100
	ResponseR1b  ResponseType = 0x200
	ResponseR2   ResponseType = 0x300
	ResponseR3   ResponseType = 0x400
	ResponseR4   ResponseType = 0x500
	ResponseR5   ResponseType = 0x600

	responseTypeMask = 0xFF00
)

// String returns a human-readable response type name.
func (r ResponseType) String() string {
	switch r {
	case ResponseNone:
		return "none"
	case ResponseR1:
		return "R1"
	case ResponseR1b:
		return "R1b"
	case ResponseR2:
		return "R2"
	case ResponseR3:
		return "R3"
	case ResponseR4:
		return "R4"
	case ResponseR5:
		return "R5"
	default:
		return "unknown"
	}
}

// CommandType is the bus command class of a command.
type CommandType uint32

// Command types.
const (
	TypeBC        CommandType = 0 << 16 // Broadcast, no response
	TypeBCR       CommandType = 1 << 16 // Broadcast with response
	TypeAC        CommandType = 2 << 16 // Addressed, no data
	TypeADTCWrite CommandType = 3 << 16 // Addressed, data to card
	TypeADTCRead  CommandType = 4 << 16 // Addressed, data from card

	commandTypeMask  = 0xFF0000
	commandIndexMask = 0x3F
)

// Commands used by the driver.
const (
	CmdGoIdleState        = Command(0) | Command(ResponseNone) | Command(TypeBC)
	CmdSendOpCond         = Command(1) | Command(ResponseR3) | Command(TypeBCR)
	CmdAllSendCID         = Command(2) | Command(ResponseR2) | Command(TypeBCR)
	CmdSetRelativeAddr    = Command(3) | Command(ResponseR1) | Command(TypeAC)
	CmdSwitch             = Command(6) | Command(ResponseR1b) | Command(TypeAC)
	CmdSelectCard         = Command(7) | Command(ResponseR1) | Command(TypeAC)
	CmdSendExtCSD         = Command(8) | Command(ResponseR1) | Command(TypeADTCRead)
	CmdSendCSD            = Command(9) | Command(ResponseR2) | Command(TypeAC)
	CmdSendStatus         = Command(13) | Command(ResponseR1) | Command(TypeAC)
	CmdSetBlockLen        = Command(16) | Command(ResponseR1) | Command(TypeAC)
	CmdReadSingleBlock    = Command(17) | Command(ResponseR1) | Command(TypeADTCRead)
	CmdReadMultipleBlock  = Command(18) | Command(ResponseR1) | Command(TypeADTCRead)
	CmdSetBlockCount      = Command(23) | Command(ResponseR1) | Command(TypeAC)
	CmdWriteBlock         = Command(24) | Command(ResponseR1) | Command(TypeADTCWrite)
	CmdWriteMultipleBlock = Command(25) | Command(ResponseR1) | Command(TypeADTCWrite)
	CmdEraseGroupStart    = Command(35) | Command(ResponseR1) | Command(TypeAC)
	CmdEraseGroupEnd      = Command(36) | Command(ResponseR1) | Command(TypeAC)
	CmdErase              = Command(38) | Command(ResponseR1b) | Command(TypeAC)
)

// Index returns the command index.
func (c Command) Index() uint8 {
	return uint8(c & commandIndexMask)
}

// Response returns the response type.
func (c Command) Response() ResponseType {
	return ResponseType(c & responseTypeMask)
}

// Type returns the command type.
func (c Command) Type() CommandType {
	return CommandType(c & commandTypeMask)
}

// HasData reports whether the command has a data phase.
func (c Command) HasData() bool {
	t := c.Type()
	return t == TypeADTCRead || t == TypeADTCWrite
}

// commandWords maps a command index to its SD_CMD register value. A zero
// entry marks an index the controller is not configured for, except index 0
// which is CMD0.
var commandWords = [64]uint32{
	0x0000, 0x0701, 0x0002, 0x0003, 0x0004, 0x0505, 0x0406, 0x0007,
	0x1C08, 0x0009, 0x000A, 0x0000, 0x000C, 0x000D, 0x1C0E, 0x000F,
	0x0010, 0x0011, 0x7C12, 0x0C13, 0x0000, 0x1C15, 0x0000, 0x0017,
	0x0018, 0x6C19, 0x0C1A, 0x001B, 0x001C, 0x001D, 0x001E, 0x1C1F,
	0x0000, 0x0000, 0x0000, 0x0423, 0x0424, 0x0000, 0x0026, 0x0427,
	0x0428, 0x0000, 0x002A, 0x0000, 0x0000, 0x0000, 0x0000, 0x0000,
	0x0000, 0x0C31, 0x0000, 0x0000, 0x0000, 0x7C35, 0x6C36, 0x0037,
	0x0038, 0x0000, 0x0000, 0x0000, 0x0000, 0x0000, 0x0000, 0x0000,
}

// responseSlot selects where a command response is stored.
type responseSlot uint8

const (
	slotScratch responseSlot = iota
	slotCardStatus
	slotOCR
	slotR4
	slotR5
	slotCID
	slotCSD
)

// cmdInfo is the command currently being built or executed.
type cmdInfo struct {
	cmd     Command
	arg     uint32
	hw      uint32 // SD_CMD register value
	dir     hal.Direction
	slot    responseSlot
	respLen int
}

// Response is the most recent command response.
type Response struct {
	Type ResponseType
	Word uint32             // R1, R1b, R3, R4 and R5
	Long [RegisterSize]byte // R2, most significant byte first
}

// makeNonTransCmd prepares cmd for execution without a data phase and clears
// the transfer bookkeeping.
func (d *Driver) makeNonTransCmd(cmd Command, arg uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cmd = cmdInfo{
		cmd:     cmd,
		arg:     arg,
		hw:      commandWords[cmd.Index()],
		dir:     hal.DirectionRead,
		respLen: 6,
	}

	d.buf = nil
	d.bufOff = 0
	d.physAddr = 0
	d.transSize = 0
	d.remainSize = 0
	d.transferMode = ModePIO

	switch cmd.Response() {
	case ResponseNone:
		d.cmd.slot = slotScratch
		d.cmd.respLen = 0
	case ResponseR1:
		d.cmd.slot = slotCardStatus
	case ResponseR1b:
		d.cmd.hw |= sdhi.CMD_RSP_BUSY
		d.cmd.slot = slotCardStatus
	case ResponseR2:
		d.cmd.slot = slotScratch
		d.cmd.respLen = r2Length
	case ResponseR3:
		d.cmd.slot = slotOCR
	case ResponseR4:
		d.cmd.slot = slotR4
	case ResponseR5:
		d.cmd.slot = slotR5
	default:
		d.cmd.slot = slotScratch
	}
}

// makeTransCmd prepares cmd for execution with a data phase over buf.
func (d *Driver) makeTransCmd(cmd Command, arg uint32, buf []byte, dir hal.Direction, mode TransferMode) {
	d.makeNonTransCmd(cmd, arg)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.cmd.dir = dir
	d.buf = buf
	d.bufOff = 0
	d.transSize = uint32(len(buf))
	d.remainSize = uint32(len(buf))
	d.transferMode = mode
}

// redirectResponse stores the next R2 response in the CID or CSD image.
func (d *Driver) redirectResponse(slot responseSlot) {
	d.mu.Lock()
	d.cmd.slot = slot
	d.mu.Unlock()
}
