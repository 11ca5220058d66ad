//go:build linux

// Package hwpwm drives PWM-capable pins through /sys/class/pwm. It is a
// thin alternate backend: the analog-output entry point prefers it when a
// pin has a kernel PWM channel and falls back to the software engines
// otherwise.
//
// On Raspberry Pi the pwm-2chan overlay (or equivalent) must be enabled
// for the header pins to appear under /sys/class/pwm. This backend is
// chosen over memory-mapped GPIO for Pi 3/4/5 compatibility.
package hwpwm

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// pinChannels maps BCM pins to their pwmchip channel under the pwm-2chan
// overlay: GPIO18/GPIO12 on channel 0, GPIO19/GPIO13 on channel 1.
var pinChannels = map[int]int{12: 0, 13: 1, 18: 0, 19: 1}

var sysfsBase = "/sys/class/pwm"

// Supported reports whether pin has a kernel PWM channel mapping.
func Supported(pin int) bool {
	_, ok := pinChannels[pin]
	return ok
}

// Output is one exported kernel PWM channel.
type Output struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	periodNS uint64
	enabled  bool
}

// Open exports the kernel PWM channel behind pin. The channel starts
// disabled; call SetFrequency before SetDutyPercent.
func Open(pin int) (*Output, error) {
	channel, ok := pinChannels[pin]
	if !ok {
		return nil, fmt.Errorf("hwpwm: pin %d has no kernel pwm channel", pin)
	}
	chipPath, err := findPWMChip()
	if err != nil {
		return nil, err
	}
	d := &Output{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	if err := d.writeBool("enable", false); err == nil {
		d.enabled = false
	}
	return d, nil
}

func findPWMChip() (string, error) {
	entries, err := os.ReadDir(sysfsBase)
	if err != nil {
		return "", fmt.Errorf("hwpwm: read %s: %w", sysfsBase, err)
	}
	// Prefer pwmchip0 (common on Pi). Entries are often symlinks, not
	// directories, so probe npwm rather than the entry type.
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			seen[e.Name()] = true
		}
	}
	var candidates []string
	for _, name := range []string{"pwmchip0", "pwmchip1", "pwmchip2"} {
		if seen[name] {
			candidates = append(candidates, name)
			delete(seen, name)
		}
	}
	for name := range seen {
		candidates = append(candidates, name)
	}
	for _, name := range candidates {
		chip := filepath.Join(sysfsBase, name)
		if n, err := readInt(filepath.Join(chip, "npwm")); err == nil && n > 0 {
			return chip, nil
		}
	}
	return "", fmt.Errorf("hwpwm: no sysfs pwmchip found (is the pwm overlay enabled?)")
}

func (d *Output) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel)); err != nil {
		// Already exported by someone else is fine.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("hwpwm: export pwm%d: %w", d.channel, err)
	}
	// Wait briefly for the sysfs node to appear.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("hwpwm: pwm path not created after export: %w", err)
	}
	return nil
}

// SetFrequency reprograms the output period. The channel is disabled while
// the period changes (a common sysfs requirement) and re-enabled after.
func (d *Output) SetFrequency(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("hwpwm: invalid frequency %g", hz)
	}
	periodNS := uint64(math.Round(1e9 / hz))
	if periodNS == 0 {
		periodNS = 1
	}

	_ = d.writeBool("enable", false)
	d.enabled = false

	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS

	if err := d.writeBool("enable", true); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

// SetDutyPercent reprograms the duty cycle, clamped into [0,100].
func (d *Output) SetDutyPercent(p float64) error {
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	if d.periodNS == 0 {
		// Conservative default if SetFrequency wasn't called: 490 Hz.
		d.periodNS = uint64(math.Round(1e9 / 490))
	}
	duty := uint64(math.Round(float64(d.periodNS) * (p / 100.0)))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	if err := d.writeUint("duty_cycle", duty); err != nil {
		return err
	}
	if !d.enabled {
		_ = d.writeBool("enable", true)
		d.enabled = true
	}
	return nil
}

// Close drives the channel to its idle LOW level and disables it.
func (d *Output) Close() error {
	_ = d.SetDutyPercent(0)
	_ = d.writeBool("enable", false)
	d.enabled = false
	return nil
}

func (d *Output) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *Output) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens O_WRONLY without O_TRUNC/O_CREATE: some sysfs
// attributes reject truncation flags even when mode bits allow writes.
// Immediately after export, udev may still be adjusting permissions, so
// EACCES/EPERM/ENOENT are retried within a short window.
func writeSysfs(path, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			lastErr = err
			if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
				time.Sleep(25 * time.Millisecond)
				continue
			}
			return err
		}
		_, werr := f.WriteString(value)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		if werr != nil {
			lastErr = werr
		} else {
			lastErr = cerr
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(lastErr) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		if werr != nil {
			return werr
		}
		return cerr
	}
}

func isRetryableSysfsErr(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.ENOENT) || os.IsPermission(err) || os.IsNotExist(err)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("hwpwm: %s: empty", path)
	}
	return strconv.Atoi(s)
}
