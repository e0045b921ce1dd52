package log

import (
	"bytes"
	"io"
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/go-logfmt/logfmt"
	"github.com/stretchr/testify/require"
)

func toMaps(t *testing.T, r io.Reader) []map[string]string {
	d := logfmt.NewDecoder(r)
	out := []map[string]string{}
	for d.ScanRecord() {
		m := map[string]string{}
		for d.ScanKeyval() {
			m[string(d.Key())] = string(d.Value())
		}
		out = append(out, m)
	}
	return out
}

func TestLogIncludesTaskID(t *testing.T) {
	var b bytes.Buffer
	original := logDestination
	logDestination = kitlog.NewSyncWriter(&b)
	defer func() { logDestination = original }()

	LogNoTaskID("hello", "foo", "bar")
	lines := toMaps(t, &b)
	require.Len(t, lines, 1)
	require.Equal(t, "hello", lines[0]["msg"])
	require.Equal(t, "bar", lines[0]["foo"])
	require.NotEmpty(t, lines[0]["ts"])
}

func TestRedactURL(t *testing.T) {
	require.Equal(t,
		"s3://AKIAEXAMPLE:xxxxx@gateway.example.io/bucket/final.mp4",
		RedactURL("s3://AKIAEXAMPLE:supersecretkey@gateway.example.io/bucket/final.mp4"),
	)
	require.Equal(t,
		"https://cdn.example.com/videos/abc/final.mp4",
		RedactURL("https://cdn.example.com/videos/abc/final.mp4"),
	)
	require.Equal(t, "some not url text", RedactURL("some not url text"))
}

func TestRedactKeyvals(t *testing.T) {
	require.Equal(t, []interface{}{
		"output", "s3://key:xxxxx@host/bucket/x.mp4",
		"note", "plain value",
	}, redactKeyvals(
		"output", "s3://key:verysecret@host/bucket/x.mp4",
		"note", "plain value",
	))
}
