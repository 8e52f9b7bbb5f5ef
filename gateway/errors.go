package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors of the notification pipeline. Handlers map these onto the
// HTTP response contract: not-found/disabled/failed/normalization are
// terminal 4xx outcomes, indeterminate solicits a resend with a 503.
var (
	ErrGatewayNotFound = errors.New("gateway not found")
	ErrGatewayDisabled = errors.New("gateway disabled")

	// ErrVerificationFailed means the payload was positively rejected as
	// untrustworthy (bad signature, failed callback echo, field mismatch).
	ErrVerificationFailed = errors.New("verification failed")

	// ErrVerificationIndeterminate means the verifier could not reach a
	// decision (network failure, timeout). The gateway should resend.
	ErrVerificationIndeterminate = errors.New("verification indeterminate")

	ErrNormalizationFailed = errors.New("normalization failed")
)

// VerificationFailedf wraps ErrVerificationFailed with a reason.
func VerificationFailedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrVerificationFailed)...)
}

// Indeterminatef wraps ErrVerificationIndeterminate with a reason.
func Indeterminatef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrVerificationIndeterminate)...)
}

// NormalizationFailedf wraps ErrNormalizationFailed with a reason.
func NormalizationFailedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNormalizationFailed)...)
}
