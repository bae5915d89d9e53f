package pipeline

import "strings"

// ErrorClass sorts extract failures into retryable vs fatal.
type ErrorClass int

const (
	// ErrorClassRetryable covers transient trouble: network resets, server
	// errors, rate limits.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal covers errors a retry cannot fix: missing or
	// protected source, malformed input.
	ErrorClassFatal
	// ErrorClassUnknown is anything unmatched; callers treat it as
	// retryable for safety.
	ErrorClassUnknown
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyExtractError classifies ffmpeg/source errors from a clip cut.
//
// Fatal: the source does not exist, cannot be read, or requires auth that
// will not appear on retry. Retryable: network and upstream server errors.
// Server-error patterns are checked first because "503" would otherwise be
// shadowed by broader matches.
func ClassifyExtractError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	lower := strings.ToLower(err.Error())

	if strings.Contains(lower, "500") ||
		strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") ||
		strings.Contains(lower, "504") ||
		strings.Contains(lower, "internal server error") ||
		strings.Contains(lower, "bad gateway") ||
		strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "gateway timeout") {
		return ErrorClassRetryable
	}

	if strings.Contains(lower, "401") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "forbidden") {
		return ErrorClassFatal
	}

	if strings.Contains(lower, "404") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "video unavailable") {
		return ErrorClassFatal
	}

	if strings.Contains(lower, "invalid data found") ||
		strings.Contains(lower, "invalid argument") ||
		strings.Contains(lower, "moov atom not found") ||
		strings.Contains(lower, "unsupported protocol") ||
		strings.Contains(lower, "malformed") {
		return ErrorClassFatal
	}

	if strings.Contains(lower, "429") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "temporary failure") ||
		strings.Contains(lower, "no route to host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "eof") {
		return ErrorClassRetryable
	}

	return ErrorClassUnknown
}
