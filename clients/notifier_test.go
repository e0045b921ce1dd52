package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reelforge/reel-worker/schema"
	"github.com/stretchr/testify/require"
)

func TestNotifierNoWebhookIsNoop(t *testing.T) {
	n := NewNotifier("")
	require.NoError(t, n.NotifyFailedTasks(context.Background(), []*schema.Task{{ID: "t1"}}))
}

func TestNotifyFailedTasksTruncatesErrors(t *testing.T) {
	received := make(chan notification, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
	}))
	defer server.Close()

	n := NewNotifier(server.URL)
	longErr := strings.Repeat("x", 500)
	err := n.NotifyFailedTasks(context.Background(), []*schema.Task{
		{ID: "t1", Error: longErr, LogURL: "https://logs/t1"},
		{ID: "t2", Error: "short"},
	})
	require.NoError(t, err)

	msg := <-received
	require.Equal(t, "tasks_failed", msg.Kind)
	require.Len(t, msg.Tasks, 2)
	require.Len(t, msg.Tasks[0].Error, notifyErrorMaxLen)
	require.Equal(t, "https://logs/t1", msg.Tasks[0].LogURL)
}

func TestNotifyEmptyBatchIsNoop(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	n := NewNotifier(server.URL)
	require.NoError(t, n.NotifyStuckTasks(context.Background(), nil))
	require.False(t, called)
}
