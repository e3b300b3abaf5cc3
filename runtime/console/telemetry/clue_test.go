package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/clue/log"
)

func TestClueLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON), log.WithDebug())

	l := NewClueLogger()
	l.Info(ctx, "session started", "session_id", "s1")
	l.Error(ctx, "stream failed", "session_id", "s1", "err", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"session started"`)
	assert.Contains(t, out, `"session_id":"s1"`)
	assert.Contains(t, out, "boom")
}

func TestFieldersSkipsNonStringKeys(t *testing.T) {
	t.Parallel()

	fs := fielders("m", []any{1, "x", "k", "v", "dangling"})
	require.Len(t, fs, 3)
	assert.Equal(t, log.KV{K: "msg", V: "m"}, fs[0])
	assert.Equal(t, log.KV{K: "k", V: "v"}, fs[1])
	assert.Equal(t, log.KV{K: "dangling", V: nil}, fs[2])
}

func TestTagsToAttrs(t *testing.T) {
	t.Parallel()

	attrs := tagsToAttrs([]string{"status", "ok", "odd"})
	require.Len(t, attrs, 2)
	assert.Equal(t, "status", string(attrs[0].Key))
	assert.Equal(t, "ok", attrs[0].Value.AsString())
	assert.Equal(t, "", attrs[1].Value.AsString())
}
