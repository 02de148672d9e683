package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrConflict           = errors.New("conflict")
	ErrFederationDisabled = errors.New("federation disabled")
	ErrConfig             = errors.New("invalid configuration")

	// ErrPolicyRejected wraps every trust check failure.
	ErrPolicyRejected     = errors.New("policy rejected")
	ErrSignatureMissing   = errors.New("signature missing")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrTargetMismatch     = errors.New("target mismatch")
	ErrKeyBindingMismatch = errors.New("key binding mismatch")
	ErrUnknownNode        = errors.New("unknown node")
	ErrKeyChanged         = errors.New("public key differs from the key on file")
	ErrSigningKeyMissing  = errors.New("signing key missing")
)
