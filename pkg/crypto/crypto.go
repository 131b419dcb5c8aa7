package crypto

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// XChaCha20-Poly1305 takes a 32-byte key
	keySize = chacha20poly1305.KeySize

	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSizeX
	tagSize   = chacha20poly1305.Overhead

	// Argon2id parameters (RFC 9106 second recommended option)
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// magic identifies clipdav ciphertexts and their format version.
var magic = []byte("CDV1")

const headerSize = 4 + saltSize + nonceSize

// IsEncrypted reports whether data starts with the clipdav cipher header.
func IsEncrypted(data []byte) bool {
	return len(data) >= headerSize+tagSize && bytes.Equal(data[:len(magic)], magic)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
}

// Encrypt encrypts plaintext with the given passphrase using XChaCha20-Poly1305
// keyed by Argon2id. The header is authenticated.
// Returns: [magic(4)][salt(16)][nonce(24)][ciphertext][tag(16)]
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	salt := header[len(magic) : len(magic)+saltSize]
	nonce := header[len(magic)+saltSize:]

	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	out := make([]byte, headerSize, headerSize+len(plaintext)+tagSize)
	copy(out, header)
	return aead.Seal(out, nonce, plaintext, header), nil
}

// Decrypt decrypts ciphertext with the given passphrase
func Decrypt(ciphertext []byte, passphrase string) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if len(ciphertext) < headerSize+tagSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	if !bytes.Equal(ciphertext[:len(magic)], magic) {
		return nil, fmt.Errorf("unrecognized ciphertext format")
	}

	header := ciphertext[:headerSize]
	salt := header[len(magic) : len(magic)+saltSize]
	nonce := header[len(magic)+saltSize:]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext[headerSize:], header)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong passphrase or corrupted data): %w", err)
	}

	return plaintext, nil
}

// EncryptFile encrypts a file with the given passphrase
func EncryptFile(srcPath, dstPath, passphrase string) error {
	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}

	ciphertext, err := Encrypt(plaintext, passphrase)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}

	if err := os.WriteFile(dstPath, ciphertext, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted file: %w", err)
	}

	return nil
}

// DecryptFile decrypts a file with the given passphrase
func DecryptFile(srcPath, dstPath, passphrase string) error {
	ciphertext, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read encrypted file: %w", err)
	}

	plaintext, err := Decrypt(ciphertext, passphrase)
	if err != nil {
		return fmt.Errorf("decryption failed: %w", err)
	}

	if err := os.WriteFile(dstPath, plaintext, 0600); err != nil {
		return fmt.Errorf("failed to write decrypted file: %w", err)
	}

	return nil
}
