package sim

import (
	"encoding/binary"
)

// Card states, numbered as in bits 12:9 of an R1 response.
const (
	StateIdle     uint8 = 0
	StateReady    uint8 = 1
	StateIdent    uint8 = 2
	StateStandby  uint8 = 3
	StateTransfer uint8 = 4
	StateData     uint8 = 5
	StateReceive  uint8 = 6
	StateProgram  uint8 = 7
)

// R1 status bits.
const (
	StatusOutOfRange   = 1 << 31
	StatusAddressError = 1 << 30
	StatusBlockLenErr  = 1 << 29
	StatusEraseParam   = 1 << 27
	StatusCCError      = 1 << 20
	StatusSwitchError  = 1 << 7
	statusReady        = 1 << 8
	statusErrors       = 0xFDBFE080 // Bits that stop a command before its data phase
)

// OCR bits.
const (
	ocrBusy        = 0x00FF8080
	ocrReady       = 1 << 31
	ocrSectorMode  = 2 << 29
	relativeAddr   = 1
	blockSize      = 512
	bootSizeFactor = 256
)

// EXT_CSD byte indexes.
const (
	extPartitionConfig = 179
	extBusWidth        = 183
	extHSTiming        = 185
	extRevision        = 192
	extCardType        = 196
	extSecCount        = 212
	extBootSizeMulti   = 226
)

// card is the protocol side of the simulated eMMC device.
type card struct {
	state  uint8
	polls  int
	cid    [16]byte
	csd    [16]byte
	extCSD [512]byte

	// Sparse block storage per partition, indexed by PARTITION_CONFIG
	// access bits.
	blocks [8]map[uint32][]byte

	preset     uint32 // CMD23 block count, consumed by the next CMD18/CMD25
	blockLen   uint32
	eraseStart uint32
	eraseEnd   uint32
	eraseSet   uint8 // bit0 start, bit1 end
}

func newCard(cfg Config) *card {
	c := &card{blockLen: blockSize}
	for i := range c.blocks {
		c.blocks[i] = make(map[uint32][]byte)
	}

	// CID: MID, OID, PNM, PRV, PSN
	c.cid[0] = 0x15
	c.cid[2] = 0x01
	copy(c.cid[3:9], "SIMMC1")
	c.cid[9] = 0x10
	binary.BigEndian.PutUint32(c.cid[10:], 0x5EED0001)

	// CSD_STRUCTURE, SPEC_VERS, TAAC, NSAC, TRAN_SPEED, CCC/READ_BL_LEN,
	// C_SIZE saturated for a sector-addressed card
	c.csd[0] = 3<<6 | (cfg.SpecVersion&0x0F)<<2
	c.csd[1] = 0x27
	c.csd[2] = 0x01
	c.csd[3] = cfg.TranSpeed
	c.csd[4] = 0xF5
	c.csd[5] = 0x09
	c.csd[6] = 0x03
	c.csd[7] = 0xFF
	c.csd[8] = 0xFF

	c.extCSD[extRevision] = 8
	c.extCSD[extCardType] = cfg.CardType
	binary.LittleEndian.PutUint32(c.extCSD[extSecCount:], cfg.Sectors)
	c.extCSD[extBootSizeMulti] = cfg.BootSizeMulti
	return c
}

// reset returns the card to the idle state, as CMD0 or a power cycle does.
func (c *card) reset() {
	c.state = StateIdle
	c.polls = 0
	c.preset = 0
	c.blockLen = blockSize
	c.eraseSet = 0
	c.extCSD[extBusWidth] = 0
	c.extCSD[extHSTiming] = 0
	c.extCSD[extPartitionConfig] &^= 0x07
}

// partition returns the active partition number.
func (c *card) partition() uint8 {
	return c.extCSD[extPartitionConfig] & 0x07
}

// capacity returns the size of partition p in sectors.
func (c *card) capacity(p uint8) uint32 {
	switch p {
	case 0:
		return binary.LittleEndian.Uint32(c.extCSD[extSecCount:])
	case 1, 2:
		return uint32(c.extCSD[extBootSizeMulti]) * bootSizeFactor
	default:
		return 0
	}
}

// inRange reports whether count sectors from sector fit the active
// partition.
func (c *card) inRange(sector, count uint32) bool {
	return uint64(sector)+uint64(count) <= uint64(c.capacity(c.partition()))
}

// busWidth returns the data bus width selected in EXT_CSD.
func (c *card) busWidth() int {
	switch c.extCSD[extBusWidth] & 0x0F {
	case 1:
		return 4
	case 2:
		return 8
	default:
		return 1
	}
}

// read copies sector of partition p into dst. Unwritten sectors read as
// zero.
func (c *card) read(p uint8, sector uint32, dst []byte) {
	if b, ok := c.blocks[p][sector]; ok {
		copy(dst, b)
		return
	}
	clear(dst[:blockSize])
}

// write stores src as sector of partition p.
func (c *card) write(p uint8, sector uint32, src []byte) {
	b := make([]byte, blockSize)
	copy(b, src)
	c.blocks[p][sector] = b
}

// erase clears sectors start through end of the active partition.
func (c *card) erase(start, end uint32) {
	m := c.blocks[c.partition()]
	for sector := range m {
		if sector >= start && sector <= end {
			delete(m, sector)
		}
	}
}

// switchByte applies a CMD6 write-byte argument. It reports false for an
// access mode or index the card does not allow.
func (c *card) switchByte(arg uint32) bool {
	access := arg >> 24 & 0x03
	index := arg >> 16 & 0xFF
	value := uint8(arg >> 8)
	if access != 3 {
		return false
	}
	switch index {
	case extPartitionConfig, extHSTiming:
		c.extCSD[index] = value
	case extBusWidth:
		if value&0x0F > 2 {
			return false
		}
		c.extCSD[index] = value
	default:
		return false
	}
	return true
}
