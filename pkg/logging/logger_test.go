package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{" trace ", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	buf := &bytes.Buffer{}
	Setup(Config{Level: "warn", Output: buf})

	logger := NewLogger("fetcher")
	logger.Debug().Msg("page requested")
	logger.Info().Msg("page fetched")
	logger.Warn().Msg("page retried")
	logger.Error().Msg("fetch failed")

	out := buf.String()
	for _, hidden := range []string{"page requested", "page fetched"} {
		if strings.Contains(out, hidden) {
			t.Errorf("%q should be filtered at warn level", hidden)
		}
	}
	for _, shown := range []string{"page retried", "fetch failed", `"component":"fetcher"`} {
		if !strings.Contains(out, shown) {
			t.Errorf("output missing %q: %s", shown, out)
		}
	}
}

func TestSetupPretty(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	buf := &bytes.Buffer{}
	Setup(Config{Level: "info", Pretty: true, Output: buf})

	logger := NewLogger("job")
	logger.Info().Str("label", "Crimes_2019-01-01_to_2019-01-02").Msg("saved")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Errorf("pretty output should not be JSON: %q", out)
	}
	if !strings.Contains(out, "saved") || !strings.Contains(out, "Crimes_2019-01-01_to_2019-01-02") {
		t.Errorf("pretty output missing message or field: %q", out)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" || cfg.Pretty || cfg.Output == nil {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}

func TestDataset(t *testing.T) {
	buf := &bytes.Buffer{}
	base := zerolog.New(buf)

	logger := Dataset(base, "ijzp-q8t2.json")
	logger.Warn().Msg("page retried")

	if !strings.Contains(buf.String(), `"endpoint":"ijzp-q8t2.json"`) {
		t.Errorf("Expected endpoint field, got %q", buf.String())
	}
}
