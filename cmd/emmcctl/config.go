package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/softemmc/emmc"
	"github.com/ardnew/softemmc/hal/sim"
)

// Backends.
const (
	backendSim  = "sim"
	backendMMIO = "mmio"
)

// maxConfigSize bounds the configuration file read.
const maxConfigSize = 1 << 20

// Config is the emmcctl configuration file.
type Config struct {
	Backend     string         `yaml:"backend"`
	Timeout     time.Duration  `yaml:"timeout"`
	ResetOnInit bool           `yaml:"reset_on_init"`
	ReadyPoll   ReadyPoll      `yaml:"ready_poll"`
	Transfer    TransferConfig `yaml:"transfer"`
	Log         LogConfig      `yaml:"log"`
	MMIO        MMIOConfig     `yaml:"mmio"`
	Sim         SimConfig      `yaml:"sim"`
}

// ReadyPoll tunes the CMD1 power-up poll.
type ReadyPoll struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// TransferConfig selects how sector data moves.
type TransferConfig struct {
	Mode         string `yaml:"mode"`          // pio or dma
	ChunkSectors uint32 `yaml:"chunk_sectors"` // Sectors per request
}

// LogConfig configures driver logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MMIOConfig locates the controller registers for the mmio backend.
type MMIOConfig struct {
	Path         string        `yaml:"path"`
	Base         uint64        `yaml:"base"`
	Size         int           `yaml:"size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SimConfig describes the card of the sim backend.
type SimConfig struct {
	Sectors       uint32 `yaml:"sectors"`
	BootSizeMulti uint8  `yaml:"boot_size_multi"`
	CardType      uint8  `yaml:"card_type"`
	TranSpeed     uint8  `yaml:"tran_speed"`
	SpecVersion   uint8  `yaml:"spec_version"`
}

// defaultConfig returns the configuration used when no file is given.
func defaultConfig() Config {
	card := sim.DefaultConfig()
	return Config{
		Backend: backendSim,
		Timeout: emmc.DefaultCommandTimeout,
		ReadyPoll: ReadyPoll{
			Attempts: emmc.DefaultReadyAttempts,
			Delay:    emmc.DefaultReadyDelay,
		},
		Transfer: TransferConfig{
			Mode:         "pio",
			ChunkSectors: 256,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Sim: SimConfig{
			Sectors:       card.Sectors,
			BootSizeMulti: card.BootSizeMulti,
			CardType:      card.CardType,
			TranSpeed:     card.TranSpeed,
			SpecVersion:   card.SpecVersion,
		},
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return cfg, err
	}
	if info.Size() > maxConfigSize {
		return cfg, fmt.Errorf("config %s: %d bytes exceeds %d", path, info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

// validate checks values the driver cannot default.
func (c Config) validate() error {
	switch c.Backend {
	case backendSim, backendMMIO:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := parseMode(c.Transfer.Mode); err != nil {
		return err
	}
	if c.Transfer.ChunkSectors == 0 || c.Transfer.ChunkSectors > emmc.WorkAreaSectors {
		return fmt.Errorf("chunk_sectors %d out of range 1-%d", c.Transfer.ChunkSectors, emmc.WorkAreaSectors)
	}
	if c.Backend == backendMMIO && c.MMIO.Base == 0 {
		return fmt.Errorf("mmio backend needs a register base address")
	}
	return nil
}

// options converts the configuration into driver options.
func (c Config) options() []emmc.Option {
	return []emmc.Option{
		emmc.WithCommandTimeout(c.Timeout),
		emmc.WithReadyPoll(c.ReadyPoll.Attempts, c.ReadyPoll.Delay),
		emmc.WithResetOnInit(c.ResetOnInit),
	}
}

// simConfig converts the sim section into a simulator configuration.
func (c Config) simConfig() sim.Config {
	card := sim.DefaultConfig()
	card.Sectors = c.Sim.Sectors
	card.BootSizeMulti = c.Sim.BootSizeMulti
	card.CardType = c.Sim.CardType
	card.TranSpeed = c.Sim.TranSpeed
	card.SpecVersion = c.Sim.SpecVersion
	return card
}

// parseMode converts a transfer mode name.
func parseMode(name string) (emmc.TransferMode, error) {
	switch name {
	case "pio":
		return emmc.ModePIO, nil
	case "dma":
		return emmc.ModeDMA, nil
	default:
		return 0, fmt.Errorf("unknown transfer mode %q", name)
	}
}
