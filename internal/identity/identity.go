// Package identity manages the per-display identity file: hardware key, CMS
// URL, server key, last-known settings, and the RSA key pair used for
// push-channel registration (§6 "Per-display identity file": 1024-bit,
// SPKI/PKCS8 PEM). The generate/persist/load shape is adapted from the
// teacher's pkg/identity/identity.go (GenerateIdentity / SaveToFile /
// LoadFromFile), swapping its Ed25519/X25519 swarm keys for the RSA
// key pair and CMS-facing fields this spec actually needs.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// KeyBits is the RSA modulus size the spec mandates for push-channel keys.
const KeyBits = 1024

// Identity is the display's durable identity, persisted once at first run
// and reused across restarts.
type Identity struct {
	HardwareKey string `json:"hardwareKey"`
	CMSURL      string `json:"cmsUrl"`
	ServerKey   string `json:"serverKey"`

	PublicKeyPEM  string `json:"publicKeyPem"`
	PrivateKeyPEM string `json:"privateKeyPem"`

	// LastSettings is the most recent register() settings map, kept so the
	// display has a usable configuration if the CMS is unreachable at
	// startup (§4.1 "settings" in the register response).
	LastSettings map[string]any `json:"lastSettings,omitempty"`

	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// GenerateIdentity creates a new display identity with a fresh RSA key pair
// and a random hardware key.
func GenerateIdentity(cmsURL, serverKey string) (*Identity, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}

	id := &Identity{
		HardwareKey: uuid.NewString(),
		CMSURL:      cmsURL,
		ServerKey:   serverKey,
		privateKey:  priv,
		publicKey:   &priv.PublicKey,
	}
	if err := id.encodeKeys(); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *Identity) encodeKeys() error {
	pkcs8, err := x509.MarshalPKCS8PrivateKey(id.privateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	id.PrivateKeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))

	spki, err := x509.MarshalPKIXPublicKey(id.publicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	id.PublicKeyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki}))
	return nil
}

func (id *Identity) decodeKeys() error {
	block, _ := pem.Decode([]byte(id.PrivateKeyPEM))
	if block == nil {
		return fmt.Errorf("no PEM block found in private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse PKCS8 private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not RSA")
	}
	id.privateKey = rsaKey
	id.publicKey = &rsaKey.PublicKey
	return nil
}

// PublicKey returns the display's RSA public key.
func (id *Identity) PublicKey() *rsa.PublicKey { return id.publicKey }

// Sign produces an RSA-PSS signature over data's SHA-256 digest, for
// authenticating push-channel registration requests.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPSS(rand.Reader, id.privateKey, 0, digest[:], nil)
}

// Verify checks an RSA-PSS signature produced by Sign against pub.
func Verify(pub *rsa.PublicKey, data, sig []byte) error {
	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(pub, 0, digest[:], sig, nil)
}

// SaveToFile persists the identity to a JSON file with owner-only
// permissions, since it contains the private key.
func (id *Identity) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// LoadFromFile loads a previously persisted identity.
func LoadFromFile(filename string) (*Identity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	if err := id.decodeKeys(); err != nil {
		return nil, fmt.Errorf("failed to decode key material: %w", err)
	}
	return &id, nil
}

// LoadOrGenerate loads the identity at filename, generating and persisting a
// fresh one on first run.
func LoadOrGenerate(filename, cmsURL, serverKey string) (*Identity, error) {
	if _, err := os.Stat(filename); err == nil {
		return LoadFromFile(filename)
	}
	id, err := GenerateIdentity(cmsURL, serverKey)
	if err != nil {
		return nil, err
	}
	if err := id.SaveToFile(filename); err != nil {
		return nil, err
	}
	return id, nil
}

// ApplySettings records the most recent register() settings map.
func (id *Identity) ApplySettings(settings map[string]any) {
	id.LastSettings = settings
}
