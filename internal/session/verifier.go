// Package session verifies wallet-signed session assertions.
//
// A client proves control of an address by signing a message with the
// Ethereum personal-message scheme (EIP-191). Verification is stateless and
// re-checkable; turning a successful verification into a session token is the
// caller's responsibility.
package session

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const signatureLength = 65

var (
	// ErrMissingAddress indicates the assertion omitted the claimed address.
	ErrMissingAddress = errors.New("address is required")
	// ErrMissingMessage indicates the assertion omitted the signed message.
	ErrMissingMessage = errors.New("message is required")
	// ErrMissingSignature indicates the assertion omitted the signature.
	ErrMissingSignature = errors.New("signature is required")
	// ErrMalformedAddress indicates the claimed address is not hex-shaped.
	ErrMalformedAddress = errors.New("address must be a 20-byte hex address")
	// ErrMalformedSignature indicates the signature is not 65 hex-encoded bytes.
	ErrMalformedSignature = errors.New("signature must be 65 hex-encoded bytes")
)

// VerifyRequest carries one signed session assertion.
type VerifyRequest struct {
	Address   string
	Message   string
	Signature string // hex, with or without 0x prefix
	// Domain optionally binds the assertion to a site: verification fails
	// unless the signed message contains this exact string.
	Domain string
	// ExpiresAt optionally bounds the assertion's lifetime. Zero means no
	// expiry check.
	ExpiresAt time.Time
}

// Verifier checks signed session assertions against wall-clock time.
type Verifier struct {
	clock func() time.Time
}

// NewVerifier creates a verifier using the system clock.
func NewVerifier() *Verifier {
	return &Verifier{clock: time.Now}
}

// Verify checks an assertion, short-circuiting on the first failed step:
// expiry, then signature recovery against the claimed address, then domain
// binding. Well-formed but invalid assertions return (false, nil); only a
// malformed call returns an error.
func (v *Verifier) Verify(req VerifyRequest) (bool, error) {
	if strings.TrimSpace(req.Address) == "" {
		return false, ErrMissingAddress
	}
	if req.Message == "" {
		return false, ErrMissingMessage
	}
	if strings.TrimSpace(req.Signature) == "" {
		return false, ErrMissingSignature
	}
	if !common.IsHexAddress(req.Address) {
		return false, ErrMalformedAddress
	}

	if !req.ExpiresAt.IsZero() && v.now().After(req.ExpiresAt) {
		return false, nil
	}

	signature, err := decodeSignature(req.Signature)
	if err != nil {
		return false, err
	}

	hash := accounts.TextHash([]byte(req.Message))
	signerPubKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		// Structurally valid hex that does not recover a key is an invalid
		// assertion, not a malformed call.
		return false, nil
	}
	if crypto.PubkeyToAddress(*signerPubKey) != common.HexToAddress(req.Address) {
		return false, nil
	}

	if req.Domain != "" && !strings.Contains(req.Message, req.Domain) {
		return false, nil
	}
	return true, nil
}

func (v *Verifier) now() time.Time {
	if v == nil || v.clock == nil {
		return time.Now()
	}
	return v.clock()
}

// decodeSignature decodes a hex r||s||v signature and normalizes the
// recovery id from the 27/28 convention wallets use to the 0/1 convention
// the recovery primitive expects.
func decodeSignature(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	signature, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, ErrMalformedSignature
	}
	if len(signature) != signatureLength {
		return nil, ErrMalformedSignature
	}
	if signature[signatureLength-1] >= 27 {
		signature[signatureLength-1] -= 27
	}
	return signature, nil
}
