package secrets

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const envMasterKey = "DEPLOYMENTS_MASTER_KEY"

// Keyring wraps the service master key, an age X25519 identity. It seals and
// opens tenant storage credentials at rest and derives the HMAC secret used
// for signing download links, so one key rotated in one place covers both.
type Keyring struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
	seed      []byte
}

// FromEnv initialises a Keyring from the DEPLOYMENTS_MASTER_KEY environment
// variable, expected to hold an age secret key (AGE-SECRET-KEY-1...).
func FromEnv() (*Keyring, error) {
	raw := strings.TrimSpace(os.Getenv(envMasterKey))
	if raw == "" {
		return nil, fmt.Errorf("%s is required", envMasterKey)
	}
	return New(raw)
}

// New parses an age secret key string into a Keyring.
func New(ageSecretKey string) (*Keyring, error) {
	seed, err := decodeAgeSecretKey(ageSecretKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: parse master key: %w", err)
	}

	identity, err := age.ParseX25519Identity(strings.ToUpper(ageSecretKey))
	if err != nil {
		return nil, fmt.Errorf("secrets: parse master key: %w", err)
	}

	return &Keyring{
		identity:  identity,
		recipient: identity.Recipient(),
		seed:      seed,
	}, nil
}

// Seal encrypts a secret value to the master key, returning base64 ciphertext
// suitable for persisting in a text column.
func (k *Keyring) Seal(plaintext string) (string, error) {
	if k == nil {
		return "", errors.New("secrets: nil keyring")
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, k.recipient)
	if err != nil {
		return "", fmt.Errorf("secrets: seal: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("secrets: seal: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("secrets: seal: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts a value previously produced by Seal.
func (k *Keyring) Open(sealed string) (string, error) {
	if k == nil {
		return "", errors.New("secrets: nil keyring")
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("secrets: open: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), k.identity)
	if err != nil {
		return "", fmt.Errorf("secrets: open: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("secrets: open: %w", err)
	}

	return string(plaintext), nil
}

// DeriveLinkSecret produces the download-link signing secret from the master
// key seed. The derivation is keyed on a fixed label so the link secret never
// equals the raw seed and other derivations can be added without collisions.
func (k *Keyring) DeriveLinkSecret() []byte {
	h := hmac.New(sha256.New, k.seed)
	h.Write([]byte("deployments/link-signing/v1"))
	return h.Sum(nil)
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(strings.ToLower(raw))
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("unexpected key length %d", len(decoded))
	}
	return decoded, nil
}
