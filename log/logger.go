package log

import (
	"net/url"
	"os"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache

const defaultLoggerCacheExpiry = 6 * time.Hour

func init() {
	loggerCache = cache.New(defaultLoggerCacheExpiry, 10*time.Minute)
}

// AddContext permanently attaches key/value pairs to the logger for a task.
// Any future logging for this task ID will include this context.
func AddContext(taskID string, keyvals ...interface{}) {
	loggerCache.Set(taskID, kitlog.With(getLogger(taskID), redactKeyvals(keyvals...)...), defaultLoggerCacheExpiry)
}

func Log(taskID string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(taskID), "msg", message).Log(redactKeyvals(keyvals...)...)
}

// LogNoTaskID is for situations where we don't have a task in hand.
// Should be used sparingly and with as much context in the message as possible.
func LogNoTaskID(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(redactKeyvals(keyvals...)...)
}

func LogError(taskID string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(taskID), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(redactKeyvals(keyvals...)...)
}

func getLogger(taskID string) kitlog.Logger {
	logger, found := loggerCache.Get(taskID)
	if found {
		return logger.(kitlog.Logger)
	}

	taskLogger := kitlog.With(newLogger(), "task_id", taskID)
	if err := loggerCache.Add(taskID, taskLogger, defaultLoggerCacheExpiry); err != nil {
		_ = taskLogger.Log("msg", "error adding logger to cache", "task_id", taskID)
	}
	return taskLogger
}

var logDestination = kitlog.NewSyncWriter(os.Stderr)

func newLogger() kitlog.Logger {
	return kitlog.With(kitlog.NewLogfmtLogger(logDestination), "ts", kitlog.DefaultTimestampUTC)
}

// redactKeyvals strips credentials out of any URL-shaped values so that
// provider API keys and signed storage URLs never land in the logs.
func redactKeyvals(keyvals ...interface{}) []interface{} {
	out := make([]interface{}, 0, len(keyvals))
	for i, kv := range keyvals {
		if i%2 == 1 {
			if s, ok := kv.(string); ok {
				kv = RedactURL(s)
			}
		}
		out = append(out, kv)
	}
	return out
}

// RedactURL masks the password component of a URL-ish string. Non-URL strings
// pass through untouched; unparseable strings that look like they carry
// credentials are replaced wholesale.
func RedactURL(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		if strings.Contains(s, "@") {
			return "REDACTED"
		}
		return s
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
		unescaped, err := url.PathUnescape(u.String())
		if err != nil {
			return "REDACTED"
		}
		return unescaped
	}
	return s
}
