package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet holds a secp256k1 private key and its derived EVM address. The
// daemon uses it for signed attestations (tracked-event receipts, handoff
// integrity), not for submitting transactions.
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  []byte // 65-byte uncompressed public key
	Address    string // EIP-55 checksummed hex address
	KeyHex     string // original or generated hex-encoded key
}

// Load creates a wallet from a hex-encoded private key, with or without the
// 0x prefix.
func Load(keyHex string) (*Wallet, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("no wallet key provided")
	}

	priv, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}

	w := fromKey(priv)
	log.Printf("[wallet] Loaded key, address: %s", w.Address)
	return w, nil
}

// Generate creates a new random wallet.
func Generate() (*Wallet, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromKey(priv), nil
}

func fromKey(priv *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		PrivateKey: priv,
		PublicKey:  crypto.FromECDSAPub(&priv.PublicKey),
		Address:    crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		KeyHex:     hexutil.Encode(crypto.FromECDSA(priv)),
	}
}

// Sign produces a 65-byte [R || S || V] signature of the Keccak-256 hash
// of data.
func (w *Wallet) Sign(data []byte) ([]byte, error) {
	hash := crypto.Keccak256(data)
	sig, err := crypto.Sign(hash, w.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// SignHash signs a pre-computed 32-byte hash.
func (w *Wallet) SignHash(hash [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], w.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign hash: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature of data's Keccak-256 hash
// by this wallet's key.
func (w *Wallet) Verify(data, sig []byte) bool {
	if len(sig) < 64 {
		return false
	}
	hash := crypto.Keccak256(data)
	// Drop the recovery byte; VerifySignature wants [R || S] only.
	return crypto.VerifySignature(w.PublicKey, hash, sig[:64])
}
