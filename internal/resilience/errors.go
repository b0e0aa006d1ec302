package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Class buckets a region query failure by how the caller should react.
type Class string

const (
	// ClassAuth means credentials cannot service any region. Fatal to the
	// whole run, never retried.
	ClassAuth Class = "auth_failure"

	// ClassRegionUnsupported means the metadata view does not exist in the
	// queried region. Terminal for that region, never retried.
	ClassRegionUnsupported Class = "region_unsupported"

	// ClassQuota means the region rejected the request for quota reasons.
	// Retryable with backoff.
	ClassQuota Class = "quota_exceeded"

	// ClassTransient covers timeouts, 5xx and network-level failures.
	// Retryable with backoff.
	ClassTransient Class = "transient_unavailable"
)

// ErrNoRegions is returned when every configured region terminated in
// failure, leaving nothing to rank.
var ErrNoRegions = errors.New("no regions available")

// RegionError ties a classified failure to the region it occurred in.
type RegionError struct {
	Region string
	Class  Class
	Err    error
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("region %s: %s: %v", e.Region, e.Class, e.Err)
}

func (e *RegionError) Unwrap() error {
	return e.Err
}

// NewRegionError wraps err with its region and failure class.
func NewRegionError(region string, class Class, err error) *RegionError {
	return &RegionError{Region: region, Class: class, Err: err}
}

// ClassOf extracts the failure class from an error chain. An explicit
// RegionError wins; otherwise deadline and network-level failures classify
// as transient, and anything unrecognized returns an empty class.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}

	var re *RegionError
	if errors.As(err, &re) {
		return re.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return ClassTransient
		}
	}

	return ""
}

// IsRetryable reports whether the failure is worth another attempt.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ClassQuota, ClassTransient:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the failure must abort the entire run.
func IsFatal(err error) bool {
	return ClassOf(err) == ClassAuth
}

// ClassFromHTTPStatus maps an HTTP status code from the metadata service to
// a failure class. Codes outside the taxonomy return an empty class.
func ClassFromHTTPStatus(status int) Class {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status == 429:
		return ClassQuota
	case status == 408 || status >= 500:
		return ClassTransient
	}
	return ""
}
