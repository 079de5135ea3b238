package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"execcore/pkg/exception"

	"github.com/yanun0323/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	credentialSaltSize  = 16
	credentialNonceSize = 12
	credentialKeySize   = 32
)

var credentialInfo = []byte("execcore logon password v1")

// Credentials authenticate the logon.
type Credentials struct {
	Username string
	Password []byte
	// Secret is the pre-shared key the password encryption key is derived from.
	Secret []byte
}

func deriveKey(secret, salt []byte) ([]byte, error) {
	key := make([]byte, credentialKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, credentialInfo), key); err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	return key, nil
}

// EncryptPassword seals password with AES-256-GCM under HKDF(secret, salt) and returns
// base64(salt || nonce || ciphertext).
func EncryptPassword(password, secret, salt, nonce []byte) (string, error) {
	if len(salt) != credentialSaltSize || len(nonce) != credentialNonceSize {
		return "", errors.Wrapf(exception.ErrInvalidArgument, "salt: %d bytes, nonce: %d bytes", len(salt), len(nonce))
	}
	if len(secret) == 0 {
		return "", errors.Wrap(exception.ErrInvalidArgument, "empty credential secret")
	}
	key, err := deriveKey(secret, salt)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "new gcm")
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(password)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, password, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptPassword reverses EncryptPassword on the counterparty side.
func DecryptPassword(encoded string, secret []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "decode password")
	}
	if len(raw) < credentialSaltSize+credentialNonceSize {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "encrypted password too short: %d", len(raw))
	}
	salt := raw[:credentialSaltSize]
	nonce := raw[credentialSaltSize : credentialSaltSize+credentialNonceSize]
	key, err := deriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}
	plain, err := gcm.Open(nil, nonce, raw[credentialSaltSize+credentialNonceSize:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "open password")
	}
	return plain, nil
}
