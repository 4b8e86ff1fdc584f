package contract

import "errors"

// Registry error codes. The error text is the code so that clients reading the
// chaincode response can match on it; Go callers use errors.Is.
var (
	ErrUnknownOrganization  = errors.New("UnknownOrganization")
	ErrInvalidProof         = errors.New("InvalidProof")
	ErrCounterOverflow      = errors.New("CounterOverflow")
	ErrUnauthorized         = errors.New("Unauthorized")
	ErrMalformedPublicInput = errors.New("MalformedPublicInput")
)
