package infra

import (
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

// activeWindowScript asks the frontmost app for its window title and, for
// browsers that are scriptable, the active tab URL. Output is a single
// "app||title||url" line.
const activeWindowScript = `
tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set appName to name of frontApp
	set windowTitle to ""
	try
		set windowTitle to name of front window of frontApp
	end try
end tell
set tabURL to ""
if appName is "Safari" then
	try
		tell application "Safari" to set tabURL to URL of current tab of front window
	end try
else if appName is "Google Chrome" then
	try
		tell application "Google Chrome" to set tabURL to URL of active tab of front window
	end try
end if
return appName & "||" & windowTitle & "||" & tabURL
`

// firefoxSnapshot is the state file written by the browser extension's
// native-messaging host. Firefox is not AppleScript-scriptable, so the
// active tab comes in through this side channel.
type firefoxSnapshot struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// OSAScriptObserver implements domain.WindowObserver by shelling out to
// osascript. Returns (nil, nil) when nothing can be observed so the
// sampling loop degrades instead of aborting.
type OSAScriptObserver struct {
	runner      CommandRunner
	bridgePath  string
	logger      *zap.Logger
	bridgeWarns int
}

// NewOSAScriptObserver creates an observer. bridgePath is the Firefox
// bridge state file; empty disables the overlay.
func NewOSAScriptObserver(runner CommandRunner, bridgePath string, logger *zap.Logger) *OSAScriptObserver {
	return &OSAScriptObserver{
		runner:     runner,
		bridgePath: bridgePath,
		logger:     logger,
	}
}

// Poll returns the current foreground sample, or nil.
func (o *OSAScriptObserver) Poll() (*domain.Sample, error) {
	out, err := o.runner.Output("osascript", "-e", activeWindowScript)
	if err != nil {
		return nil, err
	}

	sample := parseWindowOutput(string(out), time.Now())
	if sample == nil {
		return nil, nil
	}

	if o.bridgePath != "" && looksLikeFirefox(sample.App) {
		o.overlayFirefox(sample)
	}

	return sample, nil
}

// parseWindowOutput parses one "app||title||url" line.
func parseWindowOutput(raw string, now time.Time) *domain.Sample {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil
	}

	parts := strings.SplitN(line, "||", 3)
	sample := &domain.Sample{Timestamp: now, App: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		sample.Title = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		sample.URL = strings.TrimSpace(parts[2])
	}
	if sample.App == "" {
		return nil
	}
	return sample
}

// overlayFirefox replaces title/url with the bridge snapshot when present.
// Any read or parse problem leaves the osascript result untouched.
func (o *OSAScriptObserver) overlayFirefox(sample *domain.Sample) {
	data, err := os.ReadFile(o.bridgePath)
	if err != nil {
		if !os.IsNotExist(err) && o.bridgeWarns == 0 {
			o.bridgeWarns++
			o.logger.Warn("firefox bridge unreadable", zap.Error(err))
		}
		return
	}

	var snap firefoxSnapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		o.logger.Debug("firefox bridge malformed", zap.Error(err))
		return
	}

	if snap.URL != "" {
		sample.URL = snap.URL
	}
	if snap.Title != "" {
		sample.Title = snap.Title
	}
}

func looksLikeFirefox(app string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(app)), " ", "")
	return strings.HasPrefix(normalized, "firefox")
}

// Ensure OSAScriptObserver implements domain.WindowObserver.
var _ domain.WindowObserver = (*OSAScriptObserver)(nil)
