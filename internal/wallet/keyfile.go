package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// keyfileIterations is the OWASP-recommended minimum for PBKDF2-HMAC-SHA256.
	keyfileIterations = 480_000
	keyfileSaltLen    = 16
	keyfileAESKeyLen  = 32
	keyfileVersion    = 1
)

// keyfileJSON is the on-disk format for an encrypted private key. All binary
// fields are standard base64.
type keyfileJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource carries the information ResolveKey needs to obtain a private
// key, populated from configuration or environment.
type KeySource struct {
	// RawPrivateKey is the hex-encoded key (optional 0x prefix). Takes
	// precedence when set.
	RawPrivateKey string
	// KeyfilePath points to a JSON file produced by EncryptKeyfile.
	KeyfilePath string
	// Password decrypts the file at KeyfilePath.
	Password string
}

// EncryptKeyfile encrypts a hex private key with a password using
// PBKDF2-HMAC-SHA256 derivation and AES-256-GCM, returning the JSON blob for
// writing to disk.
func EncryptKeyfile(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("wallet: keyfile password must not be empty")
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("wallet: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, keyfileSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: generating salt: %w", err)
	}
	gcm, err := newKeyfileGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: generating nonce: %w", err)
	}

	out := keyfileJSON{
		Version:    keyfileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKeyfile reverses EncryptKeyfile, returning the hex private key
// without a 0x prefix.
func DecryptKeyfile(blob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("wallet: keyfile password must not be empty")
	}
	var stored keyfileJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		return "", fmt.Errorf("wallet: parsing keyfile: %w", err)
	}
	if stored.Version != keyfileVersion {
		return "", fmt.Errorf("wallet: unsupported keyfile version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("wallet: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("wallet: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("wallet: decoding ciphertext: %w", err)
	}

	gcm, err := newKeyfileGCM(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("wallet: keyfile decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// ResolveKey resolves a private key: a raw key wins, then an encrypted
// keyfile, otherwise an error.
func ResolveKey(src KeySource) (string, error) {
	if src.RawPrivateKey != "" {
		k := strings.TrimPrefix(src.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("wallet: private key is not valid hex: %w", err)
		}
		return k, nil
	}
	if src.KeyfilePath != "" {
		blob, err := os.ReadFile(src.KeyfilePath)
		if err != nil {
			return "", fmt.Errorf("wallet: reading keyfile: %w", err)
		}
		return DecryptKeyfile(blob, src.Password)
	}
	return "", errors.New("wallet: no private key source configured")
}

func newKeyfileGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, keyfileIterations, keyfileAESKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("wallet: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet: creating GCM: %w", err)
	}
	return gcm, nil
}
