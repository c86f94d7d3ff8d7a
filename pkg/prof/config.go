package prof

// Config names the output file of each profile. Empty paths are skipped.
type Config struct {
	CPU   string
	Heap  string
	Mutex string
	Block string
}

func (c Config) empty() bool {
	return c.CPU == "" && c.Heap == "" && c.Mutex == "" && c.Block == ""
}
