package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// SignatureEncoding is the wire encoding of a wallet signature
type SignatureEncoding string

const (
	SignatureBase58 SignatureEncoding = "base58"
	SignatureBase64 SignatureEncoding = "base64"
	SignatureHex    SignatureEncoding = "hex"
)

var _ WalletProofVerifier = (*WalletVerifier)(nil)

// WalletVerifier checks Solana style ed25519 proofs: the address is the
// base58 public key, the signature covers the raw message bytes.
type WalletVerifier struct {
	encoding SignatureEncoding
}

// NewWalletVerifier expects base58 signatures
func NewWalletVerifier() *WalletVerifier {
	return &WalletVerifier{encoding: SignatureBase58}
}

// WithSignatureEncoding switches the signature encoding. Unknown values
// are ignored.
func (v *WalletVerifier) WithSignatureEncoding(enc SignatureEncoding) *WalletVerifier {
	switch enc {
	case SignatureBase58, SignatureBase64, SignatureHex:
		v.encoding = enc
	}
	return v
}

// Verify reports whether signature was made over message by the key
// behind walletAddress.
func (v *WalletVerifier) Verify(walletAddress, message, signature string) bool {
	pub, err := DecodeWalletAddress(walletAddress)
	if err != nil {
		return false
	}

	sig, err := v.decodeSignature(signature)
	if err != nil {
		return false
	}

	return ed25519.Verify(pub, []byte(message), sig)
}

// VerifyProof is Verify with every failure mapped to ErrInvalidWalletProof
func (v *WalletVerifier) VerifyProof(walletAddress, message, signature string) error {
	if !v.Verify(walletAddress, message, signature) {
		return ErrInvalidWalletProof
	}
	return nil
}

// DecodeWalletAddress parses a base58 encoded ed25519 public key
func DecodeWalletAddress(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(address))
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("wallet address must decode to %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeWalletAddress renders a public key as its base58 address
func EncodeWalletAddress(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// EncodeSignature renders a raw signature in enc
func EncodeSignature(sig []byte, enc SignatureEncoding) string {
	switch enc {
	case SignatureBase64:
		return base64.StdEncoding.EncodeToString(sig)
	case SignatureHex:
		return hex.EncodeToString(sig)
	default:
		return base58.Encode(sig)
	}
}

func (v *WalletVerifier) decodeSignature(signature string) ([]byte, error) {
	signature = strings.TrimSpace(signature)

	var (
		raw []byte
		err error
	)
	switch v.encoding {
	case SignatureBase64:
		raw, err = base64.StdEncoding.DecodeString(signature)
	case SignatureHex:
		raw, err = hex.DecodeString(signature)
	default:
		raw, err = base58.Decode(signature)
	}
	if err != nil {
		return nil, err
	}

	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature must decode to %d bytes, got %d", ed25519.SignatureSize, len(raw))
	}
	return raw, nil
}
