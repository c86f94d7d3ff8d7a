//go:build linux

package main

import (
	"fmt"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/mmio"
)

func openMMIO(cfg MMIOConfig) (hal.Controller, error) {
	if cfg.Base > 1<<63-1 {
		return nil, fmt.Errorf("mmio base %#x out of range", cfg.Base)
	}
	return mmio.Open(mmio.Config{
		Path:         cfg.Path,
		Base:         int64(cfg.Base),
		Size:         cfg.Size,
		PollInterval: cfg.PollInterval,
	})
}
