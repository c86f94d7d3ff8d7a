package emmc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softemmc/pkg"
)

// Geometry is the size of each addressable partition in sectors.
type Geometry struct {
	UserSectors  uint32
	Boot1Sectors uint32
	Boot2Sectors uint32
}

// Sectors returns the size of partition p, or zero for partitions without a
// fixed size in EXT_CSD.
func (g Geometry) Sectors(p Partition) uint32 {
	switch p {
	case PartitionUser:
		return g.UserSectors
	case PartitionBoot1:
		return g.Boot1Sectors
	case PartitionBoot2:
		return g.Boot2Sectors
	default:
		return 0
	}
}

// Geometry derives the partition sizes from the cached EXT_CSD.
func (d *Driver) Geometry() (Geometry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.mount {
		return Geometry{}, pkg.ErrInvalidState
	}
	boot := uint32(d.extCSD[extCSDBootSizeMulti]) * bootSizeFactor
	return Geometry{
		UserSectors:  binary.LittleEndian.Uint32(d.extCSD[extCSDSecCount:]),
		Boot1Sectors: boot,
		Boot2Sectors: boot,
	}, nil
}

// CheckSectorRange validates a request of size sectors starting at start
// against a partition of max sectors.
func CheckSectorRange(max, start, size uint32) error {
	end := uint64(start) + uint64(size)
	switch {
	case size > WorkAreaSectors:
		return fmt.Errorf("%w: %d sectors exceeds work area of %d", pkg.ErrSizeOver, size, WorkAreaSectors)
	case size < 1 || size > max:
		return fmt.Errorf("%w: sector count %d of %d", pkg.ErrInvalidParameter, size, max)
	case end > uint64(max):
		return fmt.Errorf("%w: sectors %d-%d beyond end %d", pkg.ErrSizeOver, start, end-1, max)
	default:
		return nil
	}
}
