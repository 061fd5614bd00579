// Package identity manages the node's Ed25519 keypair and the did:key
// encoding used to name peers and operation authors everywhere in loom.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
)

const identityRelPath = ".config/loom/identity.json"

// base58btc alphabet (Bitcoin)
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ed25519Multicodec is the multicodec prefix for Ed25519 public keys (0xED01).
var ed25519Multicodec = []byte{0xed, 0x01}

// Identity holds an Ed25519 keypair and the derived DID.
type Identity struct {
	DID        string `json:"did"`
	PublicKey  string `json:"public_key"`  // base64-encoded 32 bytes
	PrivateKey string `json:"private_key"` // base64-encoded 32-byte seed
}

// DefaultPath returns ~/.config/loom/identity.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, identityRelPath)
}

// Load reads the identity file at path, or generates a new one if missing.
// An empty path means the default location.
func Load(path string) (*Identity, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return nil, fmt.Errorf("cannot determine home directory")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("parse identity: %w", err)
		}
		return &id, nil
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	return Generate(path)
}

// Generate creates a new Ed25519 keypair and writes it to disk at path.
func Generate(path string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	// ed25519.PrivateKey is 64 bytes (seed+public), we store just the 32-byte seed
	seed := priv.Seed()

	id := &Identity{
		DID:        EncodeDIDKey([]byte(pub)),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(seed),
	}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create identity dir: %w", err)
		}
		data, err := json.MarshalIndent(id, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal identity: %w", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("write identity: %w", err)
		}
	}
	return id, nil
}

// Ephemeral generates a keypair that is never written to disk. Used by tests
// and short-lived tools.
func Ephemeral() (*Identity, error) {
	return Generate("")
}

// SigningKey reconstructs the Ed25519 private key from the stored seed.
func (id *Identity) SigningKey() (ed25519.PrivateKey, error) {
	seed, err := base64.StdEncoding.DecodeString(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// VerifyKey returns the Ed25519 public key.
func (id *Identity) VerifyKey() (ed25519.PublicKey, error) {
	pub, err := base64.StdEncoding.DecodeString(id.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(pub), nil
}

// EncodeDIDKey encodes a raw Ed25519 public key as did:key:z... using
// multicodec 0xED01 prefix and base58btc encoding.
func EncodeDIDKey(publicKey []byte) string {
	prefixed := append(append([]byte{}, ed25519Multicodec...), publicKey...)

	// Base58btc encode
	num := new(big.Int).SetBytes(prefixed)
	zero := big.NewInt(0)
	base := big.NewInt(58)
	mod := new(big.Int)

	var encoded []byte
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		encoded = append([]byte{base58Alphabet[mod.Int64()]}, encoded...)
	}

	// Handle leading zero bytes
	for _, b := range prefixed {
		if b == 0 {
			encoded = append([]byte{'1'}, encoded...)
		} else {
			break
		}
	}

	return "did:key:z" + string(encoded)
}

// DecodeDIDKey decodes a did:key:z... string back to the raw 32-byte
// Ed25519 public key. The inverse of EncodeDIDKey.
func DecodeDIDKey(did string) ([]byte, error) {
	if !strings.HasPrefix(did, "did:key:z") {
		return nil, fmt.Errorf("invalid DID prefix: %s", did)
	}
	payload := did[len("did:key:z"):]
	if payload == "" {
		return nil, fmt.Errorf("empty DID payload")
	}

	num := big.NewInt(0)
	base := big.NewInt(58)
	for i := 0; i < len(payload); i++ {
		idx := strings.IndexByte(base58Alphabet, payload[i])
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q in DID", payload[i])
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(idx)))
	}
	decoded := num.Bytes()

	// Restore leading zero bytes encoded as '1'
	for i := 0; i < len(payload) && payload[i] == '1'; i++ {
		decoded = append([]byte{0}, decoded...)
	}

	if len(decoded) != len(ed25519Multicodec)+ed25519.PublicKeySize {
		return nil, fmt.Errorf("decoded DID payload is %d bytes, want %d",
			len(decoded), len(ed25519Multicodec)+ed25519.PublicKeySize)
	}
	if decoded[0] != ed25519Multicodec[0] || decoded[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("DID multicodec is not ed25519")
	}
	return decoded[2:], nil
}

// Valid reports whether did parses as a well-formed Ed25519 did:key string.
func Valid(did string) bool {
	_, err := DecodeDIDKey(did)
	return err == nil
}
