package keys

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs messages as a ledger account.
type Signer interface {
	Address() common.Address
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// EthSigner produces EIP-191 personal_sign signatures (65 bytes, V in
// {27, 28}), the same bytes a browser wallet returns for the message.
// Signatures are deterministic.
type EthSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

var _ Signer = (*EthSigner)(nil)

func NewEthSigner(key *ecdsa.PrivateKey) *EthSigner {
	return &EthSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *EthSigner) Address() common.Address { return s.addr }

// PrivateKey exposes the key for transaction signing.
func (s *EthSigner) PrivateKey() *ecdsa.PrivateKey { return s.key }

func (s *EthSigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverAddress returns the account that produced a personal_sign signature.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("keys: signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ParsePrivateKeyHex parses a secp256k1 private key, with or without 0x.
func ParsePrivateKeyHex(keyHex string) (*ecdsa.PrivateKey, error) {
	keyHex = strings.TrimSpace(keyHex)
	keyHex = strings.TrimPrefix(strings.TrimPrefix(keyHex, "0x"), "0X")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("keys: invalid private key: %w", err)
	}
	return key, nil
}

func LoadPrivateKeyFile(path string) (*ecdsa.PrivateKey, error) {
	s, err := readSecretFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKeyHex(s)
}

// SavePrivateKeyFile writes key as hex with 0600 permissions.
func SavePrivateKeyFile(path string, key *ecdsa.PrivateKey, overwrite bool) error {
	return writeSecretFile(path, fmt.Sprintf("%x\n", crypto.FromECDSA(key)), overwrite)
}
