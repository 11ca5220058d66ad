package pinio

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pinio.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadKeepsDefaultsForUnsetFields(t *testing.T) {
	cfg, err := Load(writeConfig(t, "pwm:\n  engine: event\n  analog_write_hz: 200\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PWM.Engine != EngineEvent {
		t.Errorf("Engine=%q want %q", cfg.PWM.Engine, EngineEvent)
	}
	if cfg.PWM.AnalogWriteHz != 200 {
		t.Errorf("AnalogWriteHz=%g want 200", cfg.PWM.AnalogWriteHz)
	}
	if cfg.Consumer != "pinio" {
		t.Errorf("Consumer=%q want default pinio", cfg.Consumer)
	}
	if cfg.MaxPin != 27 {
		t.Errorf("MaxPin=%d want default 27", cfg.MaxPin)
	}
	if !cfg.PWM.Hardware {
		t.Error("Hardware=false, unset field must keep the default true")
	}
}

func TestLoadFullConfig(t *testing.T) {
	body := `chip: gpiochip4
consumer: blinker
max_pin: 40
pwm:
  engine: thread
  analog_write_hz: 1000
  hardware: false
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chip != "gpiochip4" || cfg.Consumer != "blinker" || cfg.MaxPin != 40 {
		t.Errorf("cfg=%+v", cfg)
	}
	if cfg.PWM.Engine != EngineThread || cfg.PWM.AnalogWriteHz != 1000 || cfg.PWM.Hardware {
		t.Errorf("pwm=%+v", cfg.PWM)
	}
}

func TestLoadRejectsUnknownEngine(t *testing.T) {
	if _, err := Load(writeConfig(t, "pwm:\n  engine: quantum\n")); err == nil {
		t.Fatal("unknown engine accepted")
	}
}

func TestLoadRejectsOutOfBandAnalogWriteHz(t *testing.T) {
	// 5 kHz is inside the thread band but outside the event band.
	body := "pwm:\n  engine: event\n  analog_write_hz: 5000\n"
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("out-of-band analog_write_hz accepted")
	}
	if _, err := Load(writeConfig(t, "pwm:\n  analog_write_hz: 0.01\n")); err == nil {
		t.Fatal("sub-minimum analog_write_hz accepted")
	}
}

func TestLoadRejectsNegativeMaxPin(t *testing.T) {
	if _, err := Load(writeConfig(t, "max_pin: -3\n")); err == nil {
		t.Fatal("negative max_pin accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	def := DefaultConfig()
	if cfg.Consumer != def.Consumer || cfg.MaxPin != def.MaxPin ||
		cfg.PWM.Engine != def.PWM.Engine || cfg.PWM.AnalogWriteHz != def.PWM.AnalogWriteHz {
		t.Fatalf("cfg=%+v want defaults %+v", cfg, def)
	}
}
