package chat

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/raylabs/chatcore/internal/domain"
)

// FailureClass buckets a failed send for retry and UI decisions.
type FailureClass int

const (
	FailureFatal FailureClass = iota
	FailureCancelled
	FailureQuotaExceeded
	FailureTransient
)

func (c FailureClass) String() string {
	switch c {
	case FailureCancelled:
		return "cancelled"
	case FailureQuotaExceeded:
		return "quota_exceeded"
	case FailureTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// QuotaReason names the limiting dimension behind a quota block.
type QuotaReason string

const (
	QuotaNone    QuotaReason = ""
	QuotaDaily   QuotaReason = "daily"
	QuotaMonthly QuotaReason = "monthly"
	QuotaTier    QuotaReason = "tier"
)

// Classification is the outcome of Classify. Quota is set only for
// FailureQuotaExceeded.
type Classification struct {
	Class FailureClass
	Quota QuotaReason
}

// Retryable reports whether re-issuing the same request may succeed.
func (c Classification) Retryable() bool {
	return c.Class == FailureTransient
}

// quotaPhrases maps backend limit wording to a sub-reason, matched as
// lowercase substrings in rule order.
var quotaPhrases = []struct {
	phrase string
	reason QuotaReason
}{
	{"daily limit", QuotaDaily},
	{"monthly limit", QuotaMonthly},
	{"free trial limit", QuotaTier},
	{"please subscribe", QuotaTier},
	{"upgrade your plan", QuotaTier},
}

// Classify buckets a send failure. Rules in order: explicit cancellation,
// quota (402 status or a known limit phrase), transient (5xx or network),
// fatal otherwise.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Class: FailureFatal}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrStreamCancelled) {
		return Classification{Class: FailureCancelled}
	}

	var status *domain.StatusError
	if errors.As(err, &status) {
		if status.Code == 402 {
			reason := quotaReason(status.Detail)
			if reason == QuotaNone {
				reason = QuotaTier
			}
			return Classification{Class: FailureQuotaExceeded, Quota: reason}
		}
	}
	if reason := quotaReason(err.Error()); reason != QuotaNone {
		return Classification{Class: FailureQuotaExceeded, Quota: reason}
	}

	if status != nil && status.Code >= 500 {
		return Classification{Class: FailureTransient}
	}
	if errors.Is(err, domain.ErrIncompleteStream) || errors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: FailureTransient}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Class: FailureTransient}
	}

	return Classification{Class: FailureFatal}
}

func quotaReason(text string) QuotaReason {
	lower := strings.ToLower(text)
	for _, entry := range quotaPhrases {
		if strings.Contains(lower, entry.phrase) {
			return entry.reason
		}
	}
	return QuotaNone
}
