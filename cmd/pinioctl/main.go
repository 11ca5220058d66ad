// Command pinioctl exercises the pin subsystem from the command line:
// watch edges on a pin, drive a PWM waveform, or set an analog-style
// output level. Useful for bring-up on a fresh board.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pinio"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (optional)")
		pin        = flag.Int("pin", -1, "BCM pin number")
		watch      = flag.String("watch", "", "Watch edges: rising, falling or change")
		freqHz     = flag.Float64("freq", 0, "Start PWM at this frequency (Hz)")
		duty       = flag.Float64("duty", 50, "PWM duty cycle percent")
		analog     = flag.Int("analog", -1, "Analog-style output value 0..255")
	)
	flag.Parse()

	cfg := pinio.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = pinio.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}
	if *pin < 0 {
		log.Fatalf("-pin is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := pinio.New(cfg)
	defer c.Close()

	switch {
	case *watch != "":
		var edge pinio.Edge
		switch *watch {
		case "rising":
			edge = pinio.Rising
		case "falling":
			edge = pinio.Falling
		case "change":
			edge = pinio.Change
		default:
			log.Fatalf("unknown edge %q", *watch)
		}
		err := c.AttachInterrupt(*pin, edge, func(ev pinio.Event) {
			log.Printf("pin=%d rising=%v ts=%s", ev.Pin, ev.Rising, ev.Timestamp)
		})
		if err != nil {
			log.Fatalf("attach failed: %v", err)
		}
		log.Printf("watching pin=%d edge=%s", *pin, edge)

	case *freqHz > 0:
		if err := c.StartPWM(*pin, *freqHz, *duty); err != nil {
			log.Fatalf("pwm start failed: %v", err)
		}
		log.Printf("pwm pin=%d freq=%gHz duty=%g%% engine=%s", *pin, *freqHz, *duty, cfg.PWM.Engine)

	case *analog >= 0:
		if err := c.AnalogWrite(*pin, *analog); err != nil {
			log.Fatalf("analog write failed: %v", err)
		}
		log.Printf("analog pin=%d value=%d", *pin, *analog)

	default:
		log.Fatalf("one of -watch, -freq or -analog is required")
	}

	<-ctx.Done()
	log.Printf("pinioctl stopping")
	if n := c.DroppedEvents(); n > 0 {
		log.Printf("dropped events: %d", n)
	}
}
