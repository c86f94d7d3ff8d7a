// Package prof captures runtime profiles around a single emmcctl run.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/emmcctl
//
// Without the tag, [Start] accepts an empty [Config] and rejects any
// requested profile with [ErrDisabled], so callers keep their flags without
// paying for the runtime hooks.
//
// A run records any combination of a CPU profile, a heap snapshot taken at
// stop time, and mutex or block profiles. The mutex and block profiles show
// contention between the driver's operation lock, its interrupt state lock
// and the controller's interrupt goroutine:
//
//	stop, err := prof.Start(prof.Config{CPU: "cpu.prof", Mutex: "mutex.prof"})
//	if err != nil {
//	    return err
//	}
//	defer stop()
package prof
