// Package keystore stores the pre-shared key at rest, either sealed in a
// passphrase-protected file or in the platform keyring.
package keystore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/portcullis/portcullis/internal/config"
)

// Sealed PSK file format:
// [4 bytes magic] [16 bytes salt] [12 bytes nonce] [variable ciphertext]
//
// Magic bytes identify the file as a sealed portcullis key file.
// Salt is used for argon2id key derivation.
// Nonce is used for ChaCha20-Poly1305 encryption.
// Ciphertext is the encrypted PSK plus the 16 byte Poly1305 tag.

// PassphraseEnv names the environment variable holding the passphrase for
// sealed PSK files.
const PassphraseEnv = "PORTCULLIS_PSK_PASSPHRASE"

const saltSize = 16

var (
	// sealedMagic identifies a sealed PSK file ("PCSK" = PortCullis Sealed Key)
	sealedMagic = []byte{0x50, 0x43, 0x53, 0x4B}

	// argon2id parameters
	argon2Time    uint32 = 1
	argon2Memory  uint32 = 64 * 1024 // 64 MB
	argon2Threads uint8  = 4
	argon2KeyLen  uint32 = chacha20poly1305.KeySize

	// ErrWrongPassphrase is returned when decryption fails due to wrong passphrase
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore file")

	// ErrInvalidFile is returned when the file format is invalid
	ErrInvalidFile = errors.New("invalid sealed keystore file")
)

// Seal encrypts the PSK with a key derived from the passphrase and writes the
// sealed file to path with restricted permissions.
func Seal(path string, psk, passphrase []byte) error {
	if len(psk) == 0 {
		return fmt.Errorf("seal psk: no key material")
	}
	if len(passphrase) == 0 {
		return fmt.Errorf("seal psk: empty passphrase")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("seal psk: failed to generate salt: %w", err)
	}

	derivedKey := argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	aead, err := chacha20poly1305.New(derivedKey)
	if err != nil {
		return fmt.Errorf("seal psk: failed to create AEAD: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("seal psk: failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, psk, nil)

	fileData := make([]byte, 0, len(sealedMagic)+len(salt)+len(nonce)+len(ciphertext))
	fileData = append(fileData, sealedMagic...)
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("seal psk: failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, fileData, 0600); err != nil {
		return fmt.Errorf("seal psk: failed to write file: %w", err)
	}
	return nil
}

// Unseal reads a sealed PSK file and decrypts it with the passphrase.
func Unseal(path string, passphrase []byte) ([]byte, error) {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unseal psk: %w", err)
	}

	// magic (4) + salt (16) + nonce (12) + at least 1 byte ciphertext + 16 byte tag
	const minSize = 4 + saltSize + chacha20poly1305.NonceSize + 1 + chacha20poly1305.Overhead
	if len(fileData) < minSize {
		return nil, fmt.Errorf("unseal psk: %w: file too short", ErrInvalidFile)
	}
	if !bytes.Equal(fileData[:len(sealedMagic)], sealedMagic) {
		return nil, fmt.Errorf("unseal psk: %w: invalid magic bytes", ErrInvalidFile)
	}

	offset := len(sealedMagic)
	salt := fileData[offset : offset+saltSize]
	offset += saltSize
	nonce := fileData[offset : offset+chacha20poly1305.NonceSize]
	offset += chacha20poly1305.NonceSize
	ciphertext := fileData[offset:]

	derivedKey := argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	aead, err := chacha20poly1305.New(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("unseal psk: failed to create AEAD: %w", err)
	}

	psk, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal psk: %w", ErrWrongPassphrase)
	}
	return psk, nil
}

// IsSealedFile checks whether the file at the given path is a sealed PSK file
// by reading the first 4 bytes and comparing to the magic header.
func IsSealedFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	magic := make([]byte, len(sealedMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(magic, sealedMagic), nil
}

// keyringLookup is swappable for tests.
var keyringLookup = RetrievePSK

// ResolvePSK resolves the pre-shared key from its configured sources, in
// order: inline hex value, sealed key file, platform keyring. It returns the
// raw key bytes and the name of the source that supplied them.
func ResolvePSK(inlineHex, pskFile, passphrase string) ([]byte, string, error) {
	if strings.TrimSpace(inlineHex) != "" {
		key, err := config.PSKBytes(inlineHex)
		if err != nil {
			return nil, "", err
		}
		return key, "config", nil
	}

	if pskFile != "" {
		if passphrase == "" {
			return nil, "", fmt.Errorf("psk_file is set but no passphrase given: set %s", PassphraseEnv)
		}
		key, err := Unseal(pskFile, []byte(passphrase))
		if err != nil {
			return nil, "", fmt.Errorf("failed to unseal %s: %w", pskFile, err)
		}
		return key, "sealed file", nil
	}

	stored, err := keyringLookup()
	if err != nil {
		return nil, "", fmt.Errorf("no psk or psk_file configured and the keyring is unavailable: %w", err)
	}
	if stored == "" {
		return nil, "", fmt.Errorf("no PSK configured: set psk, psk_file, or run 'portcullis psk set'")
	}
	key, err := config.PSKBytes(stored)
	if err != nil {
		return nil, "", fmt.Errorf("keyring PSK: %w", err)
	}
	return key, "keyring", nil
}
