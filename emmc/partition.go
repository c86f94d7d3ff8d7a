package emmc

import (
	"context"
	"fmt"

	"github.com/ardnew/softemmc/pkg"
)

// SelectPartition makes id the partition accessed by subsequent sector
// operations. Selecting the partition already active issues no command.
func (d *Driver) SelectPartition(ctx context.Context, id Partition) error {
	d.op.Lock()
	defer d.op.Unlock()

	d.mu.Lock()
	mounted := d.mount
	config := uint32(d.extCSD[extCSDPartitionConfig])
	d.mu.Unlock()

	if !mounted {
		d.recordError(FuncSelectPartition, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}
	if uint32(id)&^partitionAccessMask != 0 {
		d.recordError(FuncSelectPartition, pkg.ErrInvalidParameter)
		return fmt.Errorf("%w: partition %d", pkg.ErrInvalidParameter, id)
	}
	if config&partitionAccessMask == uint32(id) {
		return nil
	}

	config = config&^partitionAccessMask | uint32(id)
	if err := d.setExtCSD(ctx, switchPartitionConfig|config<<8); err != nil {
		d.recordFunc(FuncSelectPartition)
		return err
	}

	pkg.LogInfo(pkg.ComponentMount, "partition selected", "partition", id.String())
	return nil
}

// ActivePartition returns the partition selected in the cached EXT_CSD.
func (d *Driver) ActivePartition() Partition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Partition(d.extCSD[extCSDPartitionConfig] & partitionAccessMask)
}
