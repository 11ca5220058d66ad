package pinio

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pinio/internal/pwm"
)

// PWM engine selection.
const (
	// EngineThread runs one timing goroutine per active channel.
	EngineThread = "thread"
	// EngineEvent multiplexes all channels on one scheduling goroutine.
	EngineEvent = "event"
)

type Config struct {
	// Chip names the GPIO character device ("gpiochip0" or a /dev path).
	// Empty means discover.
	Chip string `yaml:"chip"`
	// Consumer is the label attached to requested lines.
	Consumer string `yaml:"consumer"`
	// MaxPin is the highest supported BCM pin number; 0 means the default
	// of 27 (the Raspberry Pi header).
	MaxPin int `yaml:"max_pin"`

	PWM PWMConfig `yaml:"pwm"`
}

type PWMConfig struct {
	// Engine selects the software PWM scheduling strategy.
	Engine string `yaml:"engine"`
	// AnalogWriteHz is the waveform frequency used by AnalogWrite.
	// Defaults to 490, the Arduino convention.
	AnalogWriteHz float64 `yaml:"analog_write_hz"`
	// Hardware enables transparent use of kernel PWM channels for pins
	// that have one.
	Hardware bool `yaml:"hardware"`
}

// DefaultConfig returns the configuration used when no file is loaded:
// chip discovery, pins 0..27, thread-per-channel software PWM at 490 Hz,
// hardware PWM preferred where available.
func DefaultConfig() Config {
	return Config{
		Consumer: "pinio",
		MaxPin:   27,
		PWM: PWMConfig{
			Engine:        EngineThread,
			AnalogWriteHz: 490,
			Hardware:      true,
		},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.PWM.Engine {
	case EngineThread, EngineEvent:
	default:
		return fmt.Errorf("pwm.engine must be %q or %q, got %q", EngineThread, EngineEvent, c.PWM.Engine)
	}
	if c.MaxPin < 0 {
		return fmt.Errorf("max_pin must be >= 0, got %d", c.MaxPin)
	}
	maxHz := float64(pwm.MaxThreadFrequencyHz)
	if c.PWM.Engine == EngineEvent {
		maxHz = pwm.MaxEventFrequencyHz
	}
	if c.PWM.AnalogWriteHz < pwm.MinFrequencyHz || c.PWM.AnalogWriteHz > maxHz {
		return fmt.Errorf("pwm.analog_write_hz must be within %g..%g for engine %q, got %g",
			pwm.MinFrequencyHz, maxHz, c.PWM.Engine, c.PWM.AnalogWriteHz)
	}
	return nil
}

// applyDefaults fills unset fields on caller-constructed configs. A zero
// MaxPin is treated as unset.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Consumer == "" {
		c.Consumer = def.Consumer
	}
	if c.MaxPin == 0 {
		c.MaxPin = def.MaxPin
	}
	if c.PWM.Engine == "" {
		c.PWM.Engine = def.PWM.Engine
	}
	if c.PWM.AnalogWriteHz == 0 {
		c.PWM.AnalogWriteHz = def.PWM.AnalogWriteHz
	}
}
