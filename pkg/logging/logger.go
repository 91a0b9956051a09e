// Package logging wires up rv's hclog logger: text output gets a
// "<name>: " line prefix so interleaved installer/scheduler output stays
// attributable, JSON output (RV_JSON_LOG=1) is left unprefixed since the
// structured record already carries the logger name.
package logging

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
)

// NewLogger creates a new hclog logger with standard settings
func NewLogger(name string, level string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	jsonFormat := os.Getenv("RV_JSON_LOG") == "1"

	if !jsonFormat {
		output = newPrefixWriter(name+": ", output)
	}

	opts := &hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		JSONFormat: jsonFormat,
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05Z", // UTC ISO format
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	}

	return hclog.New(opts)
}

// GetLogLevel returns the configured log level from environment,
// falling back to "warn" so a bare invocation stays quiet.
func GetLogLevel() string {
	level := os.Getenv("RV_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	return level
}

// prefixWriter inserts prefix at the start of every line hclog writes,
// buffering partial lines until a newline arrives so a write split across
// two Write calls doesn't get a prefix stitched into its middle.
type prefixWriter struct {
	prefix string
	out    io.Writer
	buf    bytes.Buffer
}

func newPrefixWriter(prefix string, out io.Writer) *prefixWriter {
	return &prefixWriter{prefix: prefix, out: out}
}

func (pw *prefixWriter) Write(p []byte) (int, error) {
	n := len(p)
	if _, err := pw.buf.Write(p); err != nil {
		return 0, err
	}

	for {
		line, err := pw.buf.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				pw.buf.Write(line) // incomplete line, put it back and wait for more
			}
			break
		}
		if _, err := pw.out.Write([]byte(pw.prefix)); err != nil {
			return 0, err
		}
		if _, err := pw.out.Write(line); err != nil {
			return 0, err
		}
	}

	return n, nil
}
