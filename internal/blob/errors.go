package blob

import (
	"errors"

	"github.com/aws/smithy-go"
)

// IsPermanent reports whether a store error will not heal on retry.
// Anything else (timeouts, 5xx, connection resets, throttling) is treated
// as transient.
func IsPermanent(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode() {
	case "AccessDenied",
		"InvalidAccessKeyId",
		"SignatureDoesNotMatch",
		"NoSuchBucket",
		"AccountProblem",
		"AllAccessDisabled":
		return true
	}
	return false
}
