package session

// NonceBytes is the 128-bit random nonce size of spec §4.4 Round 1.
const NonceBytes = 16

// Problem-report codes specific to the session state machine (spec §7).
const (
	CodeAuthenticationBlocked = "e.p.authentication-blocked"
	CodeSessionMismatch       = "e.p.session-mismatch"
	CodeSessionInvalid        = "e.p.session-invalid"
	CodeAccessTokenFailure    = "e.p.access-token-failure"
)
