package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockCommandRunner implements CommandRunner for testing
type mockCommandRunner struct {
	outputs map[string][]byte
	errs    map[string]error
}

func (m *mockCommandRunner) Run(name string, args ...string) error {
	return m.errs[name]
}

func (m *mockCommandRunner) Output(name string, args ...string) ([]byte, error) {
	if err := m.errs[name]; err != nil {
		return nil, err
	}
	return m.outputs[name], nil
}

func TestParseWindowOutput(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		raw   string
		app   string
		title string
		url   string
		isNil bool
	}{
		{
			name:  "full triple",
			raw:   "Safari||Go docs||https://go.dev/doc/\n",
			app:   "Safari",
			title: "Go docs",
			url:   "https://go.dev/doc/",
		},
		{
			name:  "no url",
			raw:   "Code||main.go||",
			app:   "Code",
			title: "main.go",
		},
		{
			name: "app only",
			raw:  "Terminal",
			app:  "Terminal",
		},
		{
			name:  "url with query string",
			raw:   "Safari||Search results||https://example.com/q?x=1&y=2",
			app:   "Safari",
			title: "Search results",
			url:   "https://example.com/q?x=1&y=2",
		},
		{
			name:  "empty output",
			raw:   "  \n",
			isNil: true,
		},
		{
			name:  "empty app",
			raw:   "||title||url",
			isNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample := parseWindowOutput(tt.raw, now)
			if tt.isNil {
				assert.Nil(t, sample)
				return
			}
			require.NotNil(t, sample)
			assert.Equal(t, tt.app, sample.App)
			assert.Equal(t, tt.title, sample.Title)
			assert.Equal(t, tt.url, sample.URL)
			assert.Equal(t, now, sample.Timestamp)
		})
	}
}

func TestOSAScriptObserver_Poll(t *testing.T) {
	runner := &mockCommandRunner{outputs: map[string][]byte{
		"osascript": []byte("Google Chrome||PR #42||https://github.com/pull/42\n"),
	}}
	obs := NewOSAScriptObserver(runner, "", zap.NewNop())

	sample, err := obs.Poll()
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, "Google Chrome", sample.App)
	assert.Equal(t, "PR #42", sample.Title)
	assert.Equal(t, "https://github.com/pull/42", sample.URL)
}

func TestOSAScriptObserver_PollError(t *testing.T) {
	runner := &mockCommandRunner{errs: map[string]error{
		"osascript": errors.New("exit status 1"),
	}}
	obs := NewOSAScriptObserver(runner, "", zap.NewNop())

	sample, err := obs.Poll()
	assert.Error(t, err)
	assert.Nil(t, sample)
}

func TestOSAScriptObserver_FirefoxOverlay(t *testing.T) {
	bridgePath := filepath.Join(t.TempDir(), "firefox_active_tab.json")
	require.NoError(t, os.WriteFile(bridgePath,
		[]byte(`{"url":"https://news.ycombinator.com/","title":"Hacker News"}`), 0600))

	runner := &mockCommandRunner{outputs: map[string][]byte{
		"osascript": []byte("Firefox||Mozilla Firefox||\n"),
	}}
	obs := NewOSAScriptObserver(runner, bridgePath, zap.NewNop())

	sample, err := obs.Poll()
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, "Firefox", sample.App)
	assert.Equal(t, "Hacker News", sample.Title)
	assert.Equal(t, "https://news.ycombinator.com/", sample.URL)
}

func TestOSAScriptObserver_FirefoxOverlayDegrades(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
	}{
		{name: "missing bridge file", missing: true},
		{name: "malformed bridge file", content: "{broken"},
		{name: "empty snapshot", content: "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridgePath := filepath.Join(t.TempDir(), "firefox_active_tab.json")
			if !tt.missing {
				require.NoError(t, os.WriteFile(bridgePath, []byte(tt.content), 0600))
			}

			runner := &mockCommandRunner{outputs: map[string][]byte{
				"osascript": []byte("Firefox||original title||original-url\n"),
			}}
			obs := NewOSAScriptObserver(runner, bridgePath, zap.NewNop())

			sample, err := obs.Poll()
			require.NoError(t, err)
			require.NotNil(t, sample)
			assert.Equal(t, "original title", sample.Title)
			assert.Equal(t, "original-url", sample.URL)
		})
	}
}

func TestLooksLikeFirefox(t *testing.T) {
	assert.True(t, looksLikeFirefox("Firefox"))
	assert.True(t, looksLikeFirefox("Firefox Developer Edition"))
	assert.True(t, looksLikeFirefox("  firefox "))
	assert.False(t, looksLikeFirefox("Safari"))
	assert.False(t, looksLikeFirefox(""))
}
