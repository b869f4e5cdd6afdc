package problem

// Code is a stable DIDComm report-problem 2.0 error code (spec §7).
// "Representative codes" lists these as the ones operators will actually
// see; the set is not meant to be exhaustive.
type Code string

const (
	CodeAuthenticationBlocked          Code = "authentication-blocked"
	CodeSessionMismatch                Code = "session-mismatch"
	CodeSessionInvalid                 Code = "session-invalid"
	CodeAccessTokenFailure             Code = "access-token-failure"
	CodeMessageExpired                 Code = "message-expired"
	CodeMessageUnpack                  Code = "message-unpack"
	CodeAnonymousOuterEnvelopeForbidden Code = "anonymous-outer-envelope-forbidden"
	CodeAccessListDenied               Code = "access-list-denied"
	CodeReceiveForwardedDenied         Code = "receive-forwarded-denied"
	CodeReceiveAnonDenied              Code = "receive-anon-denied"
	CodeQueueLimitSender               Code = "queue-limit-sender"
	CodeQueueLimitRecipient            Code = "queue-limit-recipient"
	CodeForwardingQueueSaturated       Code = "forwarding-queue-saturated"
	CodeForwardingNextIsSelf           Code = "forwarding-next-is-self"
	// CodeForwardingFailed is the permanent-failure notice spec §4.6
	// describes ("permanent failures generate a problem report back to
	// the original sender") without naming a code of its own; the
	// representative list in spec §7 is explicitly non-exhaustive.
	CodeForwardingFailed Code = "forwarding-failed"
	CodeDirectDeliveryDenied           Code = "direct-delivery-denied"
	CodeDirectDeliveryRecipientUnknown Code = "direct-delivery-recipient-unknown"
	CodeEphemeralHeaderInvalid         Code = "ephemeral-header-invalid"
	CodeAdminAddLimit                  Code = "admin-add-limit"
	CodeAdminStripLimit                Code = "admin-strip-limit"
	CodeAccountRemoveProtected         Code = "account-remove-protected"
	// CodeReturnRouteRequired is spec §6/§7/§9's pickup hard error: a
	// message-pickup request missing "return_route: all" is rejected
	// outright rather than defaulted, since a mediator can never guess
	// whether a client fell back to polling on purpose.
	CodeReturnRouteRequired Code = "return-route-required"
)

// retryable marks the codes spec §7 calls out as storage-connection or
// queue-saturation faults; everything else is cryptographic or policy and
// therefore not retryable.
var retryable = map[Code]bool{
	CodeQueueLimitSender:         true,
	CodeQueueLimitRecipient:      true,
	CodeForwardingQueueSaturated: true,
}

func (c Code) Retryable() bool {
	return retryable[c]
}

// httpStatus mirrors the error class over REST per spec §7: retryable
// codes map to 503, everything else to 400, except the four
// authentication-layer codes, which map to 401/403, and access-list-denied
// and account-remove-protected, which map to 403.
var httpStatus = map[Code]int{
	CodeAuthenticationBlocked: 403,
	CodeSessionMismatch:       401,
	CodeSessionInvalid:        401,
	CodeAccessTokenFailure:    401,
	CodeAccessListDenied:      403,
	CodeAccountRemoveProtected: 403,
}

// HTTPStatus returns the status code a REST handler should mirror this
// problem with.
func (c Code) HTTPStatus() int {
	if status, ok := httpStatus[c]; ok {
		return status
	}
	if c.Retryable() {
		return 503
	}
	return 400
}
