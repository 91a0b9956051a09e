package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinel-coop/rv/pkg/scheduler"
)

func TestRunNDJSONEmitsOneLinePerEvent(t *testing.T) {
	ch := make(chan scheduler.Event, 2)
	ch <- scheduler.Event{Job: "rake", Kind: scheduler.EventStarted}
	ch <- scheduler.Event{Job: "rake", Kind: scheduler.EventFinished}
	close(ch)

	var buf bytes.Buffer
	runNDJSON(ch, &buf)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "rake", first["job"])
	assert.Equal(t, "started", first["kind"])
}

func TestRunNDJSONIncludesErrorField(t *testing.T) {
	ch := make(chan scheduler.Event, 1)
	ch <- scheduler.Event{Job: "rake", Kind: scheduler.EventFailed, Err: assertErr{"build failed"}}
	close(ch)

	var buf bytes.Buffer
	runNDJSON(ch, &buf)

	var event map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event))
	assert.Equal(t, "build failed", event["error"])
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
