package media

import (
	"strings"
)

// ErrorCategory represents the classification of read errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates codec/bitstream failures (invalid data, decode errors)
	ErrCategoryCodec
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized",
		"401",
		"403",
		"forbidden",
		"authentication",
		"credentials",
		"password",
	}

	codecKeywords = []string{
		"invalid data",
		"codec",
		"decode",
		"bitstream",
		"h264",
		"hevc",
		"h265",
		"missing reference",
		"corrupt",
		"no decoder",
	}

	networkKeywords = []string{
		"connection",
		"timed out",
		"timeout",
		"unreachable",
		"network",
		"resolve",
		"socket",
		"broken pipe",
		"i/o error",
		"input/output error",
		"not found",
		"eof",
	}
)

// ClassifyError categorizes a demux/decode error for telemetry.
//
// FFmpeg errors carry no structured domain, so classification relies on
// message keywords in priority order: auth, codec, network.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, authKeywords):
		return ErrCategoryAuth
	case containsAny(msg, codecKeywords):
		return ErrCategoryCodec
	case containsAny(msg, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
