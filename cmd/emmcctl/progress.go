package main

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// newProgress returns a byte progress bar on stderr, silent when stderr is
// not a terminal or quiet is set.
func newProgress(total int64, title string, quiet bool) *progressbar.ProgressBar {
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return progressbar.DefaultBytesSilent(total, title)
	}
	return progressbar.DefaultBytes(total, title)
}
