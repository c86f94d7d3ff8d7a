//go:build !linux

package main

import (
	"fmt"

	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/pkg"
)

func openMMIO(cfg MMIOConfig) (hal.Controller, error) {
	return nil, fmt.Errorf("%w: mmio backend requires linux", pkg.ErrNotSupported)
}
