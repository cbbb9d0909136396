package object

import (
	"errors"

	"github.com/aws/smithy-go"
)

// Error codes that mean the backend refused the write for capacity
// reasons. Retrying does not help until the account frees space.
var quotaErrorCodes = map[string]bool{
	"QuotaExceeded":       true,
	"InsufficientStorage": true,
	"EntityTooLarge":      true,
}

// IsQuotaExceeded reports whether err indicates the storage backend is out
// of capacity for this account or object.
func IsQuotaExceeded(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return quotaErrorCodes[apiErr.ErrorCode()]
	}
	return false
}
