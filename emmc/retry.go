package emmc

import (
	"context"
	"time"

	"github.com/ardnew/softemmc/pkg"
)

// poll calls fn until it reports done, at most attempts times, sleeping delay
// between calls. An error from fn stops the poll immediately. Exhausting the
// attempts returns pkg.ErrTimeout.
func (d *Driver) poll(ctx context.Context, attempts int, delay time.Duration, fn func() (bool, error)) error {
	for i := 0; i < attempts; i++ {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i+1 < attempts {
			if err := d.opts.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return pkg.ErrTimeout
}
