package emmc

import (
	"context"
	"fmt"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/pkg"
)

// ReadSectors fills buf from the active partition starting at sector. The
// length of buf must be a non-zero multiple of BlockSize.
func (d *Driver) ReadSectors(ctx context.Context, buf []byte, sector uint32, mode TransferMode) error {
	return d.transfer(ctx, buf, sector, mode, hal.DirectionRead)
}

// WriteSectors stores buf to the active partition starting at sector. The
// length of buf must be a non-zero multiple of BlockSize.
func (d *Driver) WriteSectors(ctx context.Context, buf []byte, sector uint32, mode TransferMode) error {
	return d.transfer(ctx, buf, sector, mode, hal.DirectionWrite)
}

func (d *Driver) transfer(ctx context.Context, buf []byte, sector uint32, mode TransferMode, dir hal.Direction) error {
	d.op.Lock()
	defer d.op.Unlock()

	fn := FuncReadSector
	if dir == hal.DirectionWrite {
		fn = FuncWriteSector
	}

	if !d.Mounted() {
		d.recordError(fn, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}
	if len(buf) == 0 || len(buf)%BlockSize != 0 {
		d.recordError(fn, pkg.ErrInvalidParameter)
		return fmt.Errorf("%w: buffer length %d", pkg.ErrInvalidParameter, len(buf))
	}
	if mode != ModePIO && mode != ModeDMA {
		d.recordError(fn, pkg.ErrInvalidParameter)
		return fmt.Errorf("%w: transfer mode %d", pkg.ErrInvalidParameter, mode)
	}
	if mode == ModeDMA && d.dma == nil {
		d.recordError(fn, pkg.ErrNotSupported)
		return fmt.Errorf("%w: controller has no DMA", pkg.ErrNotSupported)
	}

	blocks := uint32(len(buf) / BlockSize)
	for done := uint32(0); done < blocks; {
		n := min(blocks-done, maxBlockCount)
		chunk := buf[done*BlockSize : (done+n)*BlockSize]
		if err := d.transferBlocks(ctx, chunk, sector+done, n, mode, dir); err != nil {
			d.recordFunc(fn)
			return err
		}
		done += n
	}

	pkg.LogDebug(pkg.ComponentTransfer, "sectors transferred",
		"dir", dir.String(), "sector", sector, "count", blocks, "mode", mode.String())
	return nil
}

// transferBlocks moves n blocks with a single data command.
func (d *Driver) transferBlocks(ctx context.Context, buf []byte, sector, n uint32, mode TransferMode, dir hal.Direction) error {
	if n == 1 {
		cmd := CmdReadSingleBlock
		if dir == hal.DirectionWrite {
			cmd = CmdWriteBlock
		}
		d.makeTransCmd(cmd, sector, buf, dir, mode)
		return d.execCmd(ctx, R1ErrorMask)
	}

	if err := d.exec(ctx, CmdSetBlockCount, n); err != nil {
		return err
	}

	cmd := CmdReadMultipleBlock
	if dir == hal.DirectionWrite {
		cmd = CmdWriteMultipleBlock
	}
	d.makeTransCmd(cmd, sector, buf, dir, mode)
	d.mu.Lock()
	d.regs.Write32(sdhi.SD_SECCNT, n)
	d.mu.Unlock()
	return d.execCmd(ctx, R1ErrorMask)
}
