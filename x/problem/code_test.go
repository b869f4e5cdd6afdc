package problem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableCodesMapTo503(t *testing.T) {
	assert.Equal(t, 503, CodeQueueLimitSender.HTTPStatus())
	assert.Equal(t, 503, CodeForwardingQueueSaturated.HTTPStatus())
}

func TestPolicyCodesAreNotRetryable(t *testing.T) {
	assert.False(t, CodeMessageUnpack.Retryable())
	assert.Equal(t, 400, CodeMessageUnpack.HTTPStatus())
}

func TestAuthCodesMapToAuthStatuses(t *testing.T) {
	assert.Equal(t, 401, CodeSessionInvalid.HTTPStatus())
	assert.Equal(t, 403, CodeAuthenticationBlocked.HTTPStatus())
}

func TestNewBuildsReportWithRetryableFlag(t *testing.T) {
	report := New(CodeQueueLimitRecipient, "thread-1", "recipient queue full")
	assert.Equal(t, "queue-limit-recipient", report.Code)
	assert.Equal(t, "thread-1", report.PTHID)
	assert.True(t, report.Retryable)
	assert.NotEmpty(t, report.ID)
}

func TestWrapProducesErrorWithMessage(t *testing.T) {
	err := Wrap(CodeMessageExpired, "", "message past its expiry")
	assert.Equal(t, "message past its expiry", err.Error())
	assert.Equal(t, CodeMessageExpired, err.Code)
}
