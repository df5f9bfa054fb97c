package infra

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

// DefaultIdleThreshold is the configured idle threshold before system
// timeouts are taken into account.
const DefaultIdleThreshold = 10 * time.Minute

// HIDIdleProbe implements domain.IdleProbe by querying the macOS HID
// event system for seconds since last input. Any failure reports "not
// idle" so an unsupported platform just never goes idle.
type HIDIdleProbe struct {
	runner    CommandRunner
	threshold time.Duration
	logger    *zap.Logger
}

// NewHIDIdleProbe creates an idle probe with the given threshold.
func NewHIDIdleProbe(runner CommandRunner, threshold time.Duration, logger *zap.Logger) *HIDIdleProbe {
	return &HIDIdleProbe{
		runner:    runner,
		threshold: threshold,
		logger:    logger,
	}
}

// IsIdle reports whether input has been quiet longer than the threshold.
func (p *HIDIdleProbe) IsIdle() bool {
	out, err := p.runner.Output("ioreg", "-c", "IOHIDSystem", "-d", "4")
	if err != nil {
		return false
	}

	idle, ok := parseHIDIdleTime(string(out))
	if !ok {
		return false
	}
	return idle >= p.threshold
}

// parseHIDIdleTime extracts the HIDIdleTime value (nanoseconds) from
// ioreg output.
func parseHIDIdleTime(out string) (time.Duration, bool) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "HIDIdleTime") {
			continue
		}
		idx := strings.LastIndex(line, "=")
		if idx < 0 {
			continue
		}
		ns, err := strconv.ParseInt(strings.TrimSpace(line[idx+1:]), 10, 64)
		if err != nil {
			continue
		}
		return time.Duration(ns) * time.Nanosecond, true
	}
	return 0, false
}

// ResolveIdleThreshold picks the minimum of the configured threshold and
// the system display-sleep, system-sleep and screensaver timeouts, so the
// tracker flips to idle no later than the screen does. Unavailable system
// values fall back to the configured threshold.
func ResolveIdleThreshold(runner CommandRunner, configured time.Duration, logger *zap.Logger) time.Duration {
	candidates := []time.Duration{configured}

	if out, err := runner.Output("pmset", "-g", "custom"); err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			fields := strings.Fields(strings.TrimSpace(line))
			if len(fields) < 2 {
				continue
			}
			minutes, err := strconv.Atoi(fields[1])
			if err != nil || minutes <= 0 {
				continue
			}
			if fields[0] == "displaysleep" || fields[0] == "sleep" {
				secs := minutes*60 - 1
				if secs < 1 {
					secs = 1
				}
				candidates = append(candidates, time.Duration(secs)*time.Second)
			}
		}
	}

	if out, err := runner.Output("defaults", "-currentHost", "read", "com.apple.screensaver", "idleTime"); err == nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil && secs > 0 {
			candidates = append(candidates, time.Duration(secs)*time.Second)
		}
	}

	effective := candidates[0]
	for _, c := range candidates[1:] {
		if c < effective {
			effective = c
		}
	}

	if effective != configured {
		logger.Debug("idle threshold capped by system timeout",
			zap.Duration("configured", configured),
			zap.Duration("effective", effective))
	}
	return effective
}

// Ensure HIDIdleProbe implements domain.IdleProbe.
var _ domain.IdleProbe = (*HIDIdleProbe)(nil)
