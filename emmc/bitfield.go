package emmc

// BitField extracts bits top..bottom (inclusive) from a 128-bit register
// image stored most significant byte first, as the CID and CSD images are.
// Bit 0 is the least significant bit of data[15]. The field may be at most 32
// bits wide and may span at most four bytes.
func BitField(data [RegisterSize]byte, top, bottom uint32) uint32 {
	indexTop := 15 - top>>3
	indexBottom := 15 - bottom>>3

	var value uint32
	switch indexBottom - indexTop {
	case 0:
		value = uint32(data[indexTop])
	case 1:
		value = uint32(data[indexTop])<<8 | uint32(data[indexBottom])
	case 2:
		value = uint32(data[indexTop])<<16 | uint32(data[indexTop+1])<<8 | uint32(data[indexTop+2])
	default:
		value = uint32(data[indexTop])<<24 | uint32(data[indexTop+1])<<16 |
			uint32(data[indexTop+2])<<8 | uint32(data[indexTop+3])
	}

	width := top - bottom + 1
	return uint32((uint64(value) >> (bottom & 7)) & (1<<width - 1))
}
