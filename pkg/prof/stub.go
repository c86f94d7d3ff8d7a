//go:build !profile

package prof

import "errors"

// Enabled reports whether profiling is compiled in.
const Enabled = false

var (
	// ErrActive indicates a profiling run is already in progress.
	ErrActive = errors.New("profiling already active")

	// ErrDisabled indicates the binary was built without the profile tag.
	ErrDisabled = errors.New("profiling not compiled in")
)

// Start returns a no-op stop function for an empty cfg and ErrDisabled
// otherwise.
func Start(cfg Config) (func() error, error) {
	if !cfg.empty() {
		return nil, ErrDisabled
	}
	return func() error { return nil }, nil
}
