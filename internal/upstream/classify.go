package upstream

import "strings"

// Body phrases that identify a permanently failing endpoint or credential.
// A 400/422 carrying none of these is assumed to be a shape complaint worth
// retrying with the next variant.
var nonRetryablePhrases = []string{
	"no static resource",
	"unknown route",
	"method not allowed",
	"not found",
	"invalid api key",
	"api key format",
	"missing api key",
	"unauthorized",
	"forbidden",
	"model_not_found",
	"does not exist",
	"unknown model",
}

// Statuses worth trying the next base URL for before giving up.
var urlHopStatuses = map[int]bool{
	400: true,
	403: true,
	404: true,
	405: true,
	422: true,
	500: true,
	502: true,
	503: true,
}

// RetryableBody reports whether an error response should be retried with
// the next request variant. Only 400 and 422 qualify, and only when the body
// does not name a permanent failure. Empty bodies are retryable.
func RetryableBody(status int, body []byte) bool {
	if status != 400 && status != 422 {
		return false
	}
	lowered := strings.ToLower(string(body))
	for _, phrase := range nonRetryablePhrases {
		if strings.Contains(lowered, phrase) {
			return false
		}
	}
	return true
}

// HopToNextURL reports whether the status justifies sweeping the next base
// URL instead of failing the request.
func HopToNextURL(status int) bool {
	return urlHopStatuses[status]
}
