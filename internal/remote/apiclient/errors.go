package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/bulkmutate/internal/remote"
)

// Wire reasons carried in 401 responses that signal a periodic
// re-authentication request rather than a revoked credential.
const (
	reasonCaptchaRequired = "CAPTCHA_REQUIRED"
	reasonReauthRequired  = "REAUTH_REQUIRED"
)

// Wire item-error kinds.
const (
	wireKindPolicy      = "POLICY_VIOLATION"
	wireKindRateLimited = "RATE_LIMITED"
	wireKindGeneric     = "GENERIC"
)

// errorEnvelope is the JSON body of a non-2xx response.
type errorEnvelope struct {
	Error  wireCallError   `json:"error"`
	Errors []wireItemError `json:"errors"`
}

type wireCallError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// wireItemError is one entry in a 400 error list or a partialFailureErrors
// list. Index is optional; FieldPath carries an operations[N] locator.
type wireItemError struct {
	Index             *int           `json:"index,omitempty"`
	Kind              string         `json:"kind"`
	FieldPath         string         `json:"fieldPath,omitempty"`
	Trigger           string         `json:"trigger,omitempty"`
	Message           string         `json:"message,omitempty"`
	Policy            *remote.Policy `json:"policy,omitempty"`
	RetryAfterSeconds int            `json:"retryAfterSeconds,omitempty"`
}

// index resolves the operation index from the structured field or, failing
// that, from the field path.
func (w wireItemError) index() int {
	if w.Index != nil {
		return *w.Index
	}

	if n, ok := remote.ParseOperationIndex(w.FieldPath); ok {
		return n
	}

	return remote.NoItem
}

func (w wireItemError) kind() remote.Kind {
	switch strings.ToUpper(w.Kind) {
	case wireKindPolicy:
		return remote.KindPolicyViolation
	case wireKindRateLimited:
		return remote.KindRateLimited
	default:
		return remote.KindGeneric
	}
}

func (w wireItemError) detail() string {
	if w.Message != "" {
		return w.Message
	}

	return w.Kind
}

// toItemError converts a partial-failure entry to its domain form.
func (w wireItemError) toItemError() remote.ItemError {
	return remote.ItemError{
		Index:      w.index(),
		Kind:       w.kind(),
		FieldPath:  w.FieldPath,
		Trigger:    w.Trigger,
		Detail:     w.detail(),
		Policy:     w.Policy,
		RetryAfter: time.Duration(w.RetryAfterSeconds) * time.Second,
	}
}

// classifyResponse maps a non-2xx response to a *remote.Error.
func classifyResponse(status int, header http.Header, body []byte) *remote.Error {
	var env errorEnvelope
	decoded := json.Unmarshal(body, &env) == nil

	detail := strings.TrimSpace(string(body))
	if decoded && env.Error.Message != "" {
		detail = env.Error.Message
	}

	detail = fmt.Sprintf("HTTP %d: %s", status, detail)

	switch {
	case status == http.StatusTooManyRequests:
		return remote.RateLimited(parseRetryAfter(header.Get("Retry-After"), time.Now()), detail)

	case status == http.StatusUnauthorized:
		reason := strings.ToUpper(env.Error.Reason)
		if reason == reasonCaptchaRequired || reason == reasonReauthRequired {
			return remote.NewError(remote.KindAuthChallenge, detail)
		}

		return remote.NewError(remote.KindAuthFailed, detail)

	case status == http.StatusForbidden:
		return remote.NewError(remote.KindAuthFailed, detail)

	case status == http.StatusBadRequest && decoded && len(env.Errors) > 0:
		first := env.Errors[0]

		return &remote.Error{
			Kind:      first.kind(),
			ItemIndex: first.index(),
			Detail:    first.detail(),
			Policy:    first.Policy,
		}

	default:
		return remote.NewError(remote.KindGeneric, detail)
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Returns zero when absent or unparseable.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}
