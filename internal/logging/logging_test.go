package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)

	logger.Info("peer connected",
		KeyPeer, "6ba7b810",
		KeyAddress, "192.168.1.1:9473",
		KeyTransport, "tcp",
	)

	out := buf.String()
	for _, want := range []string{"peer connected", "peer=6ba7b810", "address=192.168.1.1:9473", "transport=tcp"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "JSON", &buf)

	logger.Info("forward pass", KeySequence, 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if record["msg"] != "forward pass" {
		t.Errorf("msg = %v, want forward pass", record["msg"])
	}
	if record["sequence"] != float64(42) {
		t.Errorf("sequence = %v, want 42", record["sequence"])
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		config string
		debug  bool
		info   bool
		warn   bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"WARNING", false, false, true},
		{"error", false, false, false},
		{"bogus", false, true, true},
		{"", false, true, true},
	}

	for _, tc := range tests {
		t.Run("level "+tc.config, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(tc.config, "text", &buf)

			logger.Debug("d")
			gotDebug := buf.Len() > 0
			buf.Reset()
			logger.Info("i")
			gotInfo := buf.Len() > 0
			buf.Reset()
			logger.Warn("w")
			gotWarn := buf.Len() > 0

			if gotDebug != tc.debug || gotInfo != tc.info || gotWarn != tc.warn {
				t.Errorf("level %q passed debug/info/warn = %v/%v/%v, want %v/%v/%v",
					tc.config, gotDebug, gotInfo, gotWarn, tc.debug, tc.info, tc.warn)
			}
		})
	}
}

func TestDebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", "text", &buf)

	logger.Debug("tracing")
	if !strings.Contains(buf.String(), "source=") {
		t.Errorf("debug output should carry a source reference: %s", buf.String())
	}

	buf.Reset()
	logger = NewLoggerWithWriter("info", "text", &buf)
	logger.Info("serving")
	if strings.Contains(buf.String(), "source=") {
		t.Errorf("info output should not carry a source reference: %s", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	if logger == nil {
		t.Fatal("NopLogger returned nil")
	}
	logger.Info("discarded")
	logger.Error("this too")
}

func TestNewLoggerDefaults(t *testing.T) {
	if NewLogger("info", "text") == nil {
		t.Fatal("NewLogger returned nil")
	}
}
