// Package wallet implements the Signer capability: secp256k1 keypairs,
// message signing/verification, and deterministic short addresses.
package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/ripemd160"
)

// Wallet is a generated keypair plus its derived address. The private key is
// returned to the caller once and never stored server-side.
type Wallet struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	Address    string `json:"address"`
}

// Generate creates a new secp256k1 wallet.
func Generate() (*Wallet, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	pub := priv.PubKey().SerializeCompressed()
	return &Wallet{
		PrivateKey: hex.EncodeToString(priv.Serialize()),
		PublicKey:  hex.EncodeToString(pub),
		Address:    DeriveAddress(pub),
	}, nil
}

// DeriveAddress hashes a serialized public key into a 40-char address:
// hex(RIPEMD160(SHA256(pubkey))).
func DeriveAddress(publicKey []byte) string {
	sha := sha256.Sum256(publicKey)
	h := ripemd160.New()
	h.Write(sha[:])
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveAddressHex is DeriveAddress over a hex-encoded public key.
func DeriveAddressHex(publicKeyHex string) (string, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	return DeriveAddress(raw), nil
}

// Sign signs the SHA256 digest of message with a hex-encoded private key.
func Sign(privateKeyHex string, message []byte) (string, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	digest := sha256.Sum256(message)
	sig := secpecdsa.Sign(priv, digest[:])
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a hex signature over message against a hex public key.
// Malformed inputs verify as false, never as an error.
func Verify(publicKeyHex string, message []byte, signatureHex string) bool {
	pubRaw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubRaw)
	if err != nil {
		return false
	}
	sigRaw, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	sig, err := secpecdsa.ParseDERSignature(sigRaw)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pub)
}

// TransferMessage is the canonical replay-protected payload signed by token
// transfers and native sends: "sender:receiver:symbol:amount:timestamp".
func TransferMessage(sender, receiver, symbol string, amount decimal.Decimal, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%d", sender, receiver, symbol, amount.String(), timestamp))
}
