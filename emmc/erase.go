package emmc

import (
	"context"
	"fmt"

	"github.com/ardnew/softemmc/pkg"
)

// EraseSector erases the erase groups covering sectors start through end of
// the active partition. The card must report ready for data afterwards;
// otherwise pkg.ErrCardBusy is returned and the caller decides whether to
// poll again.
func (d *Driver) EraseSector(ctx context.Context, start, end uint32) error {
	d.op.Lock()
	defer d.op.Unlock()

	if start > end {
		d.recordError(FuncEraseSector, pkg.ErrInvalidParameter)
		return fmt.Errorf("%w: erase start %d after end %d", pkg.ErrInvalidParameter, start, end)
	}
	if !d.Mounted() {
		d.recordError(FuncEraseSector, pkg.ErrInvalidState)
		return pkg.ErrInvalidState
	}

	pkg.LogDebug(pkg.ComponentErase, "erase", "start", start, "end", end)

	if err := d.exec(ctx, CmdEraseGroupStart, start); err != nil {
		return err
	}
	if err := d.exec(ctx, CmdEraseGroupEnd, end); err != nil {
		return err
	}
	if err := d.exec(ctx, CmdErase, 0); err != nil {
		return err
	}
	if err := d.exec(ctx, CmdSendStatus, rca<<16); err != nil {
		return err
	}

	d.mu.Lock()
	ready := d.r1Status&r1ReadyForData != 0
	d.mu.Unlock()
	if !ready {
		d.recordError(FuncEraseSector, pkg.ErrCardBusy)
		return pkg.ErrCardBusy
	}

	pkg.LogInfo(pkg.ComponentErase, "erase complete", "start", start, "end", end)
	return nil
}
