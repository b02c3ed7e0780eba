package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32 // AES-256
	saltSize   = 32
	pbkdf2Iter = 100000
)

// TokenStore keeps the session token encrypted at rest.
//
// The token file holds base64(nonce || AES-GCM ciphertext). The key is derived
// with PBKDF2 from a machine identifier and a random salt kept next to the
// token file.
type TokenStore struct {
	tokenPath string
	saltPath  string

	mu     sync.Mutex
	cached string
}

// NewTokenStore creates a store writing to tokenPath.
func NewTokenStore(tokenPath string) *TokenStore {
	return &TokenStore{
		tokenPath: tokenPath,
		saltPath:  tokenPath + ".salt",
	}
}

// Save encrypts and persists the token.
func (s *TokenStore) Save(token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	key, err := s.getOrCreateKey()
	if err != nil {
		return fmt.Errorf("failed to get encryption key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(token), nil)

	if err := os.MkdirAll(filepath.Dir(s.tokenPath), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(sealed)
	if err := os.WriteFile(s.tokenPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	s.mu.Lock()
	s.cached = token
	s.mu.Unlock()
	return nil
}

// Load decrypts the stored token. Returns ErrNoToken when nothing is stored.
func (s *TokenStore) Load() (string, error) {
	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	data, err := os.ReadFile(s.tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	key, err := s.loadKey()
	if err != nil {
		return "", fmt.Errorf("failed to load encryption key: %w", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}

	token := string(plaintext)
	s.mu.Lock()
	s.cached = token
	s.mu.Unlock()
	return token, nil
}

// Token implements TokenSource.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	return s.Load()
}

// Clear removes the stored token and its salt.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	s.cached = ""
	s.mu.Unlock()

	for _, path := range []string{s.tokenPath, s.saltPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (s *TokenStore) getOrCreateKey() ([]byte, error) {
	if key, err := s.loadKey(); err == nil {
		return key, nil
	}
	return s.generateAndSaveKey()
}

func (s *TokenStore) loadKey() ([]byte, error) {
	data, err := os.ReadFile(s.saltPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("invalid salt file format")
	}
	return deriveKey(salt), nil
}

func (s *TokenStore) generateAndSaveKey() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.saltPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(salt)
	if err := os.WriteFile(s.saltPath, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to write salt file: %w", err)
	}
	return deriveKey(salt), nil
}

func deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(machineID()), salt, pbkdf2Iter, keySize, sha256.New)
}

// machineID combines hostname and user name.
func machineID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "default-machine"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "default-user"
	}
	return hostname + ":" + username
}
