package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")
	ErrMissingKey    = fmt.Errorf("token encryption key missing or too short")

	// Upstream provider errors
	ErrAuthExpired       = fmt.Errorf("authorization expired")
	ErrRateLimited       = fmt.Errorf("rate limited")
	ErrTransientUpstream = fmt.Errorf("transient upstream failure")

	// Credential errors
	ErrCorruptCredential = fmt.Errorf("corrupt credential")
	ErrMissingScope      = fmt.Errorf("missing required scope")

	// Import errors
	ErrUnrecognizedFormat = fmt.Errorf("unrecognized archive format")
	ErrRecordCapExceeded  = fmt.Errorf("record cap exceeded")
	ErrArchiveTooLarge    = fmt.Errorf("archive too large")

	// Tool dispatch errors
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrNotFound        = fmt.Errorf("not found")
	ErrInternal        = fmt.Errorf("internal error")
)

// kinds maps sentinel errors to the behavioral category names carried in
// tool-dispatch envelopes and job ledger entries.
var kinds = []struct {
	err  error
	name string
}{
	{ErrAuthExpired, "AuthExpired"},
	{ErrRateLimited, "RateLimited"},
	{ErrTransientUpstream, "TransientUpstream"},
	{ErrCorruptCredential, "CorruptCredential"},
	{ErrMissingScope, "MissingScope"},
	{ErrUnrecognizedFormat, "UnrecognizedFormat"},
	{ErrRecordCapExceeded, "RecordCapExceeded"},
	{ErrArchiveTooLarge, "ArchiveTooLarge"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrNotFound, "NotFound"},
}

// ErrorKind returns the behavioral category for err, or "Internal" when the
// error does not wrap any known sentinel.
func ErrorKind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// Describe renders err as "<Kind>: <detail>". When the message starts with
// the matched sentinel's own text, that prefix is folded into the kind name
// so the detail reads once, e.g. "MissingScope: Insufficient scope".
func Describe(err error) string {
	msg := err.Error()
	for _, k := range kinds {
		if !errors.Is(err, k.err) {
			continue
		}
		if rest, ok := strings.CutPrefix(msg, k.err.Error()); ok {
			rest = strings.TrimPrefix(rest, ": ")
			if rest == "" {
				return k.name
			}
			return k.name + ": " + rest
		}
		return k.name + ": " + msg
	}
	return "Internal: " + msg
}
