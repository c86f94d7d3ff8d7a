//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

var (
	// ErrActive indicates a profiling run is already in progress.
	ErrActive = errors.New("profiling already active")

	// ErrDisabled indicates the binary was built without the profile tag.
	ErrDisabled = errors.New("profiling not compiled in")
)

var (
	mutex  sync.Mutex
	active bool
)

// Start begins a profiling run. The returned function stops the run and
// writes the snapshot profiles; it is safe to call more than once.
func Start(cfg Config) (func() error, error) {
	if cfg.empty() {
		return func() error { return nil }, nil
	}

	mutex.Lock()
	defer mutex.Unlock()
	if active {
		return nil, ErrActive
	}

	var cpu *os.File
	if cfg.CPU != "" {
		f, err := os.Create(cfg.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		cpu = f
	}
	if cfg.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	if cfg.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	active = true

	var (
		once sync.Once
		err  error
	)
	stop := func() error {
		once.Do(func() { err = finish(cfg, cpu) })
		return err
	}
	return stop, nil
}

// finish stops the CPU profile and writes the snapshot profiles.
func finish(cfg Config, cpu *os.File) error {
	mutex.Lock()
	defer mutex.Unlock()
	defer func() { active = false }()

	var errs []error
	if cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, cpu.Close())
	}
	if cfg.Heap != "" {
		runtime.GC()
		errs = append(errs, write("heap", cfg.Heap))
	}
	if cfg.Mutex != "" {
		errs = append(errs, write("mutex", cfg.Mutex))
		runtime.SetMutexProfileFraction(0)
	}
	if cfg.Block != "" {
		errs = append(errs, write("block", cfg.Block))
		runtime.SetBlockProfileRate(0)
	}
	return errors.Join(errs...)
}

// write saves the named runtime profile to path.
func write(name, path string) error {
	p := pprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("unknown profile %q", name)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
