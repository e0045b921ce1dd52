package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/schema"
)

const notifyErrorMaxLen = 200

// Notifier posts operational alerts to a webhook. A missing webhook URL turns
// every call into a no-op, and notification failures are never fatal to the
// caller.
type Notifier struct {
	WebhookURL string
	client     *http.Client
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		WebhookURL: webhookURL,
		client:     newRetryableClient(15*time.Second, 2),
	}
}

type notification struct {
	Kind      string             `json:"kind"`
	Text      string             `json:"text"`
	Tasks     []taskNotification `json:"tasks,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type taskNotification struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
	LogURL string `json:"log_url,omitempty"`
}

// NotifyFailedTasks sends one grouped message for a batch of failed tasks.
// Error messages are truncated so one giant ffmpeg stderr dump can't blow up
// the webhook payload.
func (n *Notifier) NotifyFailedTasks(ctx context.Context, tasks []*schema.Task) error {
	if n.WebhookURL == "" || len(tasks) == 0 {
		return nil
	}
	msg := notification{
		Kind:      "tasks_failed",
		Text:      fmt.Sprintf("%d task(s) failed", len(tasks)),
		Timestamp: time.Now().UTC(),
	}
	for _, task := range tasks {
		msg.Tasks = append(msg.Tasks, taskNotification{
			TaskID: task.ID,
			Error:  xerrors.Truncate(task.Error, notifyErrorMaxLen),
			LogURL: task.LogURL,
		})
	}
	return n.post(ctx, msg)
}

// NotifyStuckTasks reports tasks the reconciler timed out.
func (n *Notifier) NotifyStuckTasks(ctx context.Context, tasks []*schema.Task) error {
	if n.WebhookURL == "" || len(tasks) == 0 {
		return nil
	}
	msg := notification{
		Kind:      "tasks_stuck",
		Text:      fmt.Sprintf("%d task(s) exceeded the processing timeout and were failed", len(tasks)),
		Timestamp: time.Now().UTC(),
	}
	for _, task := range tasks {
		msg.Tasks = append(msg.Tasks, taskNotification{TaskID: task.ID, LogURL: task.LogURL})
	}
	return n.post(ctx, msg)
}

func (n *Notifier) post(ctx context.Context, msg notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.LogNoTaskID("webhook notification failed", "err", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned status %d", resp.StatusCode)
		log.LogNoTaskID("webhook notification rejected", "err", err)
		return err
	}
	return nil
}
