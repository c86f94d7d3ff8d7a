package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardnew/softemmc/emmc"
	"github.com/ardnew/softemmc/pkg"
	"github.com/ardnew/softemmc/pkg/prof"
)

// runCommand executes the root command with args against the sim backend.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(newApp())
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--quiet"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// =============================================================================
// Commands
// =============================================================================

func TestCommand_Output(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "info",
			args: []string{"info"},
			want: []string{"SIMMC1", "spec version:  4", "ext_csd rev:   8", "user area:     7733248 sectors", "bus width:     8", "timing:", "partition:     user"},
		},
		{
			name: "extcsd dump",
			args: []string{"extcsd"},
			want: []string{"00000000  "},
		},
		{
			name: "extcsd index",
			args: []string{"extcsd", "--index", "226"},
			want: []string{"EXT_CSD[226] = 0x20"},
		},
		{
			name: "extcsd set",
			args: []string{"extcsd", "--set", "179=0x08", "--index", "179"},
			want: []string{"EXT_CSD[179] = 0x08"},
		},
		{
			name: "partition default",
			args: []string{"partition"},
			want: []string{"partition user: 7733248 sectors"},
		},
		{
			name: "partition boot1",
			args: []string{"partition", "boot1"},
			want: []string{"partition boot1: 8192 sectors"},
		},
		{
			name: "partition flag",
			args: []string{"--partition", "boot2", "partition"},
			want: []string{"partition boot2: 8192 sectors"},
		},
		{
			name: "erase",
			args: []string{"erase", "16", "0x20"},
			want: []string{"erased sectors 16-32"},
		},
		{
			name: "read hex dump",
			args: []string{"--mode", "dma", "read", "0", "1"},
			want: []string{"00000000  00 00 00 00", "000001f0  00 00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCommand(t, tt.args...)
			if err != nil {
				t.Fatalf("%v failed: %v", tt.args, err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		is   error
	}{
		{"unknown backend", []string{"--backend", "usb", "info"}, nil},
		{"unknown mode", []string{"--mode", "burst", "info"}, nil},
		{"unknown log level", []string{"--log-level", "loud", "info"}, nil},
		{"bad sector", []string{"read", "abc", "1"}, pkg.ErrInvalidParameter},
		{"read past end", []string{"--partition", "boot1", "read", "8191", "2"}, pkg.ErrSizeOver},
		{"erase reversed", []string{"erase", "9", "8"}, pkg.ErrInvalidParameter},
		{"extcsd index range", []string{"extcsd", "--index", "512"}, pkg.ErrInvalidParameter},
		{"extcsd read only", []string{"extcsd", "--set", "192=1"}, pkg.ErrCardStatus},
		{"bad partition", []string{"partition", "boot3"}, pkg.ErrInvalidParameter},
		{"write without input", []string{"write", "0"}, nil},
		{"missing args", []string{"erase", "1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCommand(t, tt.args...)
			if err == nil {
				t.Fatalf("%v succeeded, want error", tt.args)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("%v = %v, want %v", tt.args, err, tt.is)
			}
		})
	}
}

func TestCommand_ReadWriteFiles(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	data := bytes.Repeat([]byte("emmcctl"), 100)
	if err := os.WriteFile(in, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	out, err := runCommand(t, "write", "4", "--in", in)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(out, "wrote 700 bytes at sector 4") {
		t.Errorf("write output = %q", out)
	}

	// Each invocation mounts a fresh card, so the sectors read back empty
	dst := filepath.Join(dir, "out.bin")
	if _, err := runCommand(t, "read", "4", "2", "--out", dst); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(got) != 2*emmc.BlockSize {
		t.Errorf("read %d bytes, want %d", len(got), 2*emmc.BlockSize)
	}
}

// =============================================================================
// Session
// =============================================================================

func TestSession_ReadWriteRange(t *testing.T) {
	for _, mode := range []string{"pio", "dma"} {
		t.Run(mode, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Transfer.Mode = mode
			cfg.Transfer.ChunkSectors = 3

			ctx := context.Background()
			s, err := openSession(ctx, cfg)
			if err != nil {
				t.Fatalf("openSession failed: %v", err)
			}
			defer s.Close()

			// 7 whole sectors plus a partial one span three chunks
			data := make([]byte, 7*emmc.BlockSize+100)
			for i := range data {
				data[i] = byte(i*7 + i>>9)
			}
			var wrote bytes.Buffer
			if err := s.writeRange(ctx, 10, data, &wrote); err != nil {
				t.Fatalf("writeRange failed: %v", err)
			}
			if wrote.Len() != 8*emmc.BlockSize {
				t.Errorf("write progress = %d bytes, want %d", wrote.Len(), 8*emmc.BlockSize)
			}

			var got, read bytes.Buffer
			if err := s.readRange(ctx, 10, 8, &got, &read); err != nil {
				t.Fatalf("readRange failed: %v", err)
			}
			if read.Len() != got.Len() {
				t.Errorf("read progress = %d bytes, want %d", read.Len(), got.Len())
			}
			want := append(bytes.Clone(data), make([]byte, emmc.BlockSize-100)...)
			if !bytes.Equal(got.Bytes(), want) {
				t.Error("read data does not match written data")
			}
		})
	}
}

func TestSession_WritePartialSectorProgress(t *testing.T) {
	ctx := context.Background()
	s, err := openSession(ctx, defaultConfig())
	if err != nil {
		t.Fatalf("openSession failed: %v", err)
	}
	defer s.Close()

	tests := []struct {
		size int
		want int
	}{
		{1, emmc.BlockSize},
		{emmc.BlockSize, emmc.BlockSize},
		{700, 2 * emmc.BlockSize},
		{3*emmc.BlockSize - 1, 3 * emmc.BlockSize},
	}

	for _, tt := range tests {
		data := padSectors(bytes.Repeat([]byte{0xA5}, tt.size))
		if len(data) != tt.want {
			t.Fatalf("padSectors(%d bytes) = %d bytes, want %d", tt.size, len(data), tt.want)
		}

		// A bar sized to the padded data must absorb every chunk
		bar := newProgress(int64(len(data)), "write", true)
		if err := s.writeRange(ctx, 0, data, bar); err != nil {
			t.Errorf("writeRange(%d bytes) failed: %v", tt.size, err)
		}
		if got := bar.State().CurrentNum; got != int64(tt.want) {
			t.Errorf("progress after %d bytes = %d, want %d", tt.size, got, tt.want)
		}
		bar.Close()
	}
}

func TestSession_Partition(t *testing.T) {
	ctx := context.Background()
	s, err := openSession(ctx, defaultConfig())
	if err != nil {
		t.Fatalf("openSession failed: %v", err)
	}
	defer s.Close()

	if err := s.selectPartition(ctx, ""); err != nil {
		t.Errorf("selectPartition(\"\") = %v, want nil", err)
	}
	if err := s.selectPartition(ctx, "boot1"); err != nil {
		t.Fatalf("selectPartition(boot1) failed: %v", err)
	}
	if p := s.drv.ActivePartition(); p != emmc.PartitionBoot1 {
		t.Errorf("ActivePartition() = %v, want boot1", p)
	}
	if err := s.checkRange(8191, 1); err != nil {
		t.Errorf("checkRange(8191, 1) = %v, want nil", err)
	}
	if err := s.checkRange(8191, 2); !errors.Is(err, pkg.ErrSizeOver) {
		t.Errorf("checkRange(8191, 2) = %v, want ErrSizeOver", err)
	}
	if err := s.writeRange(ctx, 0, nil, &bytes.Buffer{}); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("writeRange(nil) = %v, want ErrInvalidParameter", err)
	}
}

func TestSession_MountFailure(t *testing.T) {
	cfg := defaultConfig()
	cfg.Sim.SpecVersion = 3

	_, err := openSession(context.Background(), cfg)
	if err == nil {
		t.Fatal("openSession succeeded with a pre-4.0 card")
	}
	if !errors.Is(err, pkg.ErrIllegalCard) || !strings.Contains(err.Error(), "mount failed") {
		t.Errorf("error = %v, want mount failure context", err)
	}
}

func TestCommand_Profile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mutex.prof")
	_, err := runCommand(t, "--mutexprofile", path, "info")
	if !prof.Enabled {
		if !errors.Is(err, prof.ErrDisabled) {
			t.Errorf("info with profile = %v, want ErrDisabled", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("info with profile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("profile not written: %v", err)
	}
}
