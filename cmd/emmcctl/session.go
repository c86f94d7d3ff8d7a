package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ardnew/softemmc/emmc"
	"github.com/ardnew/softemmc/hal"
	"github.com/ardnew/softemmc/hal/sim"
	"github.com/ardnew/softemmc/pkg"
)

// session is a mounted card.
type session struct {
	drv  *emmc.Driver
	ctrl hal.Controller
	cfg  Config
	mode emmc.TransferMode
}

// openSession brings up the configured backend and mounts the card.
func openSession(ctx context.Context, cfg Config) (*session, error) {
	mode, err := parseMode(cfg.Transfer.Mode)
	if err != nil {
		return nil, err
	}

	var ctrl hal.Controller
	switch cfg.Backend {
	case backendSim:
		ctrl = sim.New(cfg.simConfig())
	case backendMMIO:
		ctrl, err = openMMIO(cfg.MMIO)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	s := &session{
		drv:  emmc.New(ctrl, cfg.options()...),
		ctrl: ctrl,
		cfg:  cfg,
		mode: mode,
	}
	if err := s.mount(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) mount(ctx context.Context) error {
	if err := s.drv.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := s.drv.Power(ctx, true); err != nil {
		return fmt.Errorf("power: %w", err)
	}
	if err := s.drv.Mount(ctx); err != nil {
		info := s.drv.LastError()
		return fmt.Errorf("mount failed in %v (SD_INFO2 %#04x): %w", info.Func, info.Info2, err)
	}
	pkg.LogInfo(pkg.ComponentCLI, "session open", "backend", s.cfg.Backend)
	return nil
}

// Close powers the card down and releases the controller.
func (s *session) Close() error {
	ctx := context.Background()
	var errs []error
	if s.drv.Mounted() {
		errs = append(errs, s.drv.Unmount(ctx))
		errs = append(errs, s.drv.Power(ctx, false))
	}
	errs = append(errs, s.drv.Close(), s.ctrl.Close())
	return errors.Join(errs...)
}

// selectPartition switches to the named partition if one is given.
func (s *session) selectPartition(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	p, err := parsePartition(name)
	if err != nil {
		return err
	}
	return s.drv.SelectPartition(ctx, p)
}

// checkRange validates count sectors from sector against the active
// partition.
func (s *session) checkRange(sector, count uint32) error {
	geo, err := s.drv.Geometry()
	if err != nil {
		return err
	}
	return emmc.CheckSectorRange(geo.Sectors(s.drv.ActivePartition()), sector, count)
}

// readRange copies count sectors starting at sector to w in chunks,
// reporting each chunk to progress.
func (s *session) readRange(ctx context.Context, sector, count uint32, w io.Writer, progress io.Writer) error {
	if err := s.checkRange(sector, count); err != nil {
		return err
	}

	chunk := s.cfg.Transfer.ChunkSectors
	buf := make([]byte, int(min(chunk, count))*emmc.BlockSize)
	for done := uint32(0); done < count; {
		n := min(chunk, count-done)
		b := buf[:int(n)*emmc.BlockSize]
		if err := s.drv.ReadSectors(ctx, b, sector+done, s.mode); err != nil {
			return fmt.Errorf("read sector %d: %w", sector+done, err)
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if _, err := progress.Write(b); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// writeRange stores data starting at sector in chunks. data is padded with
// zeros to a whole number of sectors.
func (s *session) writeRange(ctx context.Context, sector uint32, data []byte, progress io.Writer) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: no data", pkg.ErrInvalidParameter)
	}
	data = padSectors(data)
	count := uint32(len(data) / emmc.BlockSize)
	if err := s.checkRange(sector, count); err != nil {
		return err
	}

	chunk := s.cfg.Transfer.ChunkSectors
	for done := uint32(0); done < count; {
		n := min(chunk, count-done)
		b := data[int(done)*emmc.BlockSize : int(done+n)*emmc.BlockSize]
		if err := s.drv.WriteSectors(ctx, b, sector+done, s.mode); err != nil {
			return fmt.Errorf("write sector %d: %w", sector+done, err)
		}
		if _, err := progress.Write(b); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// padSectors extends data with zeros to a whole number of sectors.
func padSectors(data []byte) []byte {
	if rem := len(data) % emmc.BlockSize; rem != 0 {
		data = append(data, make([]byte, emmc.BlockSize-rem)...)
	}
	return data
}

// parsePartition converts a partition name.
func parsePartition(name string) (emmc.Partition, error) {
	for p := emmc.PartitionUser; p <= emmc.PartitionGP4; p++ {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown partition %q", pkg.ErrInvalidParameter, name)
}
