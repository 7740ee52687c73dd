// Package crypto decrypts backup artifacts. An encrypted artifact is a 16-byte
// initialization vector at offset 0 followed by AES-256-CBC ciphertext with
// PKCS#7 padding.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// IVSize is the length of the initialization vector at the start of an artifact.
const IVSize = aes.BlockSize

// chunkSize is how much ciphertext Decrypt reads at a time. Must be a multiple of the block size.
const chunkSize = 64 * 1024

// ErrBadPadding is returned when the final block does not carry valid PKCS#7
// padding, which in practice means the wrong key or a corrupted artifact.
var ErrBadPadding = errors.New("crypto: invalid padding")

// Decrypt streams the plaintext of an encrypted artifact from src to dst and
// returns the number of plaintext bytes written.
func Decrypt(key []byte, src io.Reader, dst io.Writer) (int64, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, fmt.Errorf("crypto: new cipher: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		return 0, fmt.Errorf("crypto: reading iv: %w", err)
	}

	mode := cipher.NewCBCDecrypter(block, iv)

	var (
		written int64
		held    []byte // last decrypted block, unpadded only at EOF
		buf     = make([]byte, chunkSize)
	)

	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if n%aes.BlockSize != 0 {
				return written, errors.New("crypto: ciphertext is not a multiple of the block size")
			}

			chunk := buf[:n]
			mode.CryptBlocks(chunk, chunk)

			if held != nil {
				m, werr := dst.Write(held)
				written += int64(m)
				if werr != nil {
					return written, werr
				}
			}

			m, werr := dst.Write(chunk[:n-aes.BlockSize])
			written += int64(m)
			if werr != nil {
				return written, werr
			}

			held = append(held[:0], chunk[n-aes.BlockSize:]...)
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}

		if err != nil {
			return written, fmt.Errorf("crypto: reading ciphertext: %w", err)
		}
	}

	if held == nil {
		return written, errors.New("crypto: empty ciphertext")
	}

	last, err := unpad(held)
	if err != nil {
		return written, err
	}

	m, err := dst.Write(last)
	written += int64(m)

	return written, err
}

// Encrypt produces an artifact in the format Decrypt reads, with a random IV.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("crypto: generate iv: %w", err)
	}

	padded := pad(plaintext)
	out := make([]byte, IVSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)

	return out, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize

	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(block []byte) ([]byte, error) {
	n := int(block[len(block)-1])
	if n == 0 || n > aes.BlockSize || n > len(block) {
		return nil, ErrBadPadding
	}

	for _, b := range block[len(block)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}

	return block[:len(block)-n], nil
}
