package emmc

import (
	"context"
	"errors"
	"testing"

	"github.com/ardnew/softemmc/hal/sdhi"
	"github.com/ardnew/softemmc/hal/sim"
	"github.com/ardnew/softemmc/pkg"
)

func TestTranSpeedDivisor(t *testing.T) {
	tests := []struct {
		name      string
		tranSpeed uint32
		want      Divisor
		ok        bool
	}{
		{"15MHz", 0x22, Clock400KHz, true},
		{"20MHz", 0x2A, Clock20MHz, true},
		{"26MHz", 0x32, Clock26MHz, true},
		{"30MHz", 0x3A, Clock26MHz, true},
		{"45MHz", 0x52, Clock26MHz, true},
		{"52MHz", 0x5A, Clock52MHz, true},
		{"55MHz", 0x62, Clock52MHz, true},
		{"200MHz", 0x2B, Clock52MHz, true},
		{"10MHz", 0x0A, Clock400KHz, true},
		{"2MHz", 0x29, Clock400KHz, true},
		{"zero multiplier", 0x00, 0, false},
		{"reserved unit", 0x37, 0, false},
		{"unit 4", 0x34, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tranSpeedDivisor(tt.tranSpeed)
			if ok != tt.ok {
				t.Fatalf("tranSpeedDivisor(%#02x) ok = %v, want %v", tt.tranSpeed, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("tranSpeedDivisor(%#02x) = %d, want %d", tt.tranSpeed, got, tt.want)
			}
		})
	}
}

func TestDriver_SetRequestClock(t *testing.T) {
	d, ctrl := newTestDriver(t, sim.DefaultConfig())

	if err := d.SetRequestClock(Clock400KHz); err != nil {
		t.Fatalf("SetRequestClock failed: %v", err)
	}
	value := ctrl.Read32(sdhi.SD_CLK_CTRL)
	if value&sdhi.CLK_DIV_MASK != 0x80 {
		t.Errorf("divisor field = %#x, want 0x80", value&sdhi.CLK_DIV_MASK)
	}
	if value&sdhi.CLK_ENABLE == 0 {
		t.Error("CLK_ENABLE not set")
	}
	if freq, on := d.Clock(); freq != Clock400KHz || !on {
		t.Errorf("Clock() = %d, %v, want %d, true", freq, on, Clock400KHz)
	}

	// Unchanged frequency skips the busy check
	ctrl.SetBusy(true)
	if err := d.SetRequestClock(Clock400KHz); err != nil {
		t.Errorf("SetRequestClock(same) = %v, want nil", err)
	}

	err := d.SetRequestClock(Clock26MHz)
	if !errors.Is(err, pkg.ErrCardBusy) {
		t.Fatalf("SetRequestClock(busy) = %v, want ErrCardBusy", err)
	}
	info := d.LastError()
	if info.Func != FuncSetClock || info.Code != pkg.CodeCardBusy {
		t.Errorf("LastError() = %+v, want set-clock/card-busy", info)
	}
	if freq, _ := d.Clock(); freq != Clock400KHz {
		t.Errorf("Clock() = %d after busy, want %d", freq, Clock400KHz)
	}

	ctrl.SetBusy(false)
	if err := d.SetRequestClock(Clock26MHz); err != nil {
		t.Fatalf("SetRequestClock failed: %v", err)
	}
	if got := ctrl.Read32(sdhi.SD_CLK_CTRL) & sdhi.CLK_DIV_MASK; got != 0x02 {
		t.Errorf("divisor field = %#x, want 0x02", got)
	}
}

func TestDriver_SetRequestClockErrors(t *testing.T) {
	t.Run("invalid divisor", func(t *testing.T) {
		d, _ := newTestDriver(t, sim.DefaultConfig())

		err := d.SetRequestClock(Divisor(3))
		if !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Fatalf("SetRequestClock(3) = %v, want ErrInvalidParameter", err)
		}
		info := d.LastError()
		if info.Func != FuncSetClock || info.Code != pkg.CodeParameter {
			t.Errorf("LastError() = %+v, want set-clock/parameter", info)
		}
	})

	t.Run("not powered", func(t *testing.T) {
		d, _ := newTestDriver(t, sim.DefaultConfig())
		if err := d.Power(context.Background(), false); err != nil {
			t.Fatalf("Power failed: %v", err)
		}

		if err := d.SetRequestClock(Clock400KHz); !errors.Is(err, pkg.ErrInvalidState) {
			t.Fatalf("SetRequestClock = %v, want ErrInvalidState", err)
		}
	})
}

func TestDriver_ClockCtrl(t *testing.T) {
	d, ctrl := newTestDriver(t, sim.DefaultConfig())
	if err := d.SetRequestClock(Clock20MHz); err != nil {
		t.Fatalf("SetRequestClock failed: %v", err)
	}

	if err := d.clockCtrl(false); err != nil {
		t.Fatalf("clockCtrl(false) failed: %v", err)
	}
	value := ctrl.Read32(sdhi.SD_CLK_CTRL)
	if value&sdhi.CLK_ENABLE != 0 {
		t.Error("CLK_ENABLE still set")
	}
	if value&sdhi.CLK_DIV_MASK != 0x04 {
		t.Errorf("divisor field = %#x, want 0x04 preserved", value&sdhi.CLK_DIV_MASK)
	}

	ctrl.SetBusy(true)
	if err := d.clockCtrl(true); !errors.Is(err, pkg.ErrCardBusy) {
		t.Errorf("clockCtrl(true) = %v, want ErrCardBusy", err)
	}
	if _, on := d.Clock(); on {
		t.Error("clock enabled while busy")
	}
}

func TestDriver_SetDataTimeout(t *testing.T) {
	tests := []struct {
		freq Divisor
		want uint32
	}{
		{Clock400KHz, 0x60},
		{Clock20MHz, 0xB0},
		{Clock26MHz, 0xC0},
		{Clock52MHz, 0xD0},
	}

	d, ctrl := newTestDriver(t, sim.DefaultConfig())
	for _, tt := range tests {
		d.setDataTimeout(tt.freq)
		option := ctrl.Read32(sdhi.SD_OPTION)
		if got := option & sdhi.OPTION_TIMEOUT_MASK; got != tt.want {
			t.Errorf("divisor %d: timeout field = %#x, want %#x", tt.freq, got, tt.want)
		}
		if got := option &^ sdhi.OPTION_TIMEOUT_MASK; got != sdhi.OPTION_DEFAULT&^sdhi.OPTION_TIMEOUT_MASK {
			t.Errorf("divisor %d: other bits = %#x, want %#x", tt.freq, got, sdhi.OPTION_DEFAULT&^sdhi.OPTION_TIMEOUT_MASK)
		}
	}
}
