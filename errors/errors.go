// Package errors carries the error taxonomy of the rendering pipeline.
// Retry policy is expressed through the Unretriable wrapper, which composes
// with backoff.Retry so that permanent failures short-circuit retry loops.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// Unretriable marks an error as permanent. Retry loops built on
// backoff.Retry stop immediately when they see one of these.
func Unretriable(err error) error {
	return backoff.Permanent(err)
}

func IsUnretriable(err error) bool {
	var permErr *backoff.PermanentError
	return errors.As(err, &permErr)
}

// AssetUnavailableError is returned when a remote asset answers 403 or 404.
// These are never retried; the asset is not going to appear.
type AssetUnavailableError struct {
	Status int
	URL    string
}

func (e *AssetUnavailableError) Error() string {
	return fmt.Sprintf("asset unavailable (HTTP %d): %s", e.Status, e.URL)
}

func NewAssetUnavailableError(status int, url string) error {
	return Unretriable(&AssetUnavailableError{Status: status, URL: url})
}

func IsAssetUnavailable(err error) bool {
	var target *AssetUnavailableError
	return errors.As(err, &target)
}

// QuotaExhaustedError signals a provider-side balance or quota failure.
// Surfaces immediately: no retry, no provider fallback.
type QuotaExhaustedError struct {
	Provider string
	Code     int
	Message  string
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("provider %s quota exhausted (code %d): %s", e.Provider, e.Code, e.Message)
}

func NewQuotaExhaustedError(provider string, code int, message string) error {
	return Unretriable(&QuotaExhaustedError{Provider: provider, Code: code, Message: message})
}

func IsQuotaExhausted(err error) bool {
	var target *QuotaExhaustedError
	return errors.As(err, &target)
}

// PolicyRefusalError signals a provider refusing to generate the requested
// content. Treated like quota exhaustion: logged and surfaced.
type PolicyRefusalError struct {
	Provider string
	Message  string
}

func (e *PolicyRefusalError) Error() string {
	return fmt.Sprintf("provider %s refused request: %s", e.Provider, e.Message)
}

func NewPolicyRefusalError(provider, message string) error {
	return Unretriable(&PolicyRefusalError{Provider: provider, Message: message})
}

func IsPolicyRefusal(err error) bool {
	var target *PolicyRefusalError
	return errors.As(err, &target)
}

// AllProvidersFailedError is returned when the requested provider and every
// fallback for a capability have failed.
type AllProvidersFailedError struct {
	Capability string
	Causes     map[string]error
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for provider, cause := range e.Causes {
		parts = append(parts, fmt.Sprintf("%s: %s", provider, cause))
	}
	return fmt.Sprintf("all %s providers failed: %s", e.Capability, strings.Join(parts, "; "))
}

func NewAllProvidersFailedError(capability string, causes map[string]error) error {
	return Unretriable(&AllProvidersFailedError{Capability: capability, Causes: causes})
}

func IsAllProvidersFailed(err error) bool {
	var target *AllProvidersFailedError
	return errors.As(err, &target)
}

// InputInvalidError is a malformed payload, e.g. an image scene with neither
// an image URL nor a prompt. Fatal for the task, never retried.
type InputInvalidError struct {
	Reason string
}

func (e *InputInvalidError) Error() string {
	return "invalid input: " + e.Reason
}

func NewInputInvalidError(format string, args ...interface{}) error {
	return Unretriable(&InputInvalidError{Reason: fmt.Sprintf(format, args...)})
}

func IsInputInvalid(err error) bool {
	var target *InputInvalidError
	return errors.As(err, &target)
}

// Truncate shortens an error message for storage and notifications.
func Truncate(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}
