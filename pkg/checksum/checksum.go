// Package checksum parses published checksum files and verifies downloads
// against them.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	toolhttp "github.com/flanksource/toolchain/pkg/http"
)

// HashType represents different hash algorithms
type HashType string

const (
	HashTypeMD5    HashType = "md5"
	HashTypeSHA1   HashType = "sha1"
	HashTypeSHA256 HashType = "sha256"
	HashTypeSHA384 HashType = "sha384"
	HashTypeSHA512 HashType = "sha512"
)

var lengths = map[int]HashType{
	32:  HashTypeMD5,
	40:  HashTypeSHA1,
	64:  HashTypeSHA256,
	96:  HashTypeSHA384,
	128: HashTypeSHA512,
}

// DetectHashType returns the explicit "type:" prefix when present, otherwise
// guesses from the hex length, defaulting to sha256.
func DetectHashType(checksum string) HashType {
	checksum = strings.TrimSpace(checksum)
	if prefix, rest, ok := strings.Cut(checksum, ":"); ok {
		if t := HashType(strings.ToLower(strings.TrimSpace(prefix))); known(t) {
			return t
		}
		checksum = strings.TrimSpace(rest)
	}
	if t, ok := lengths[len(checksum)]; ok {
		return t
	}
	return HashTypeSHA256
}

func known(t HashType) bool {
	for _, v := range lengths {
		if v == t {
			return true
		}
	}
	return false
}

// CreateHasher creates the appropriate hash.Hash for the given type
func CreateHasher(hashType HashType) (hash.Hash, error) {
	switch hashType {
	case HashTypeMD5:
		return md5.New(), nil
	case HashTypeSHA1:
		return sha1.New(), nil
	case HashTypeSHA256:
		return sha256.New(), nil
	case HashTypeSHA384:
		return sha512.New384(), nil
	case HashTypeSHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash type: %s", hashType)
	}
}

// ParseChecksum splits an optional "type:" prefix from the value.
func ParseChecksum(checksum string) (value string, hashType HashType) {
	checksum = strings.TrimSpace(checksum)
	if prefix, rest, ok := strings.Cut(checksum, ":"); ok {
		return strings.TrimSpace(rest), DetectHashType(prefix + ":" + rest)
	}
	return checksum, DetectHashType(checksum)
}

// FormatChecksum formats a checksum with its type prefix
func FormatChecksum(value string, hashType HashType) string {
	return fmt.Sprintf("%s:%s", hashType, value)
}

// CalculateFileChecksum hashes the file at path
func CalculateFileChecksum(path string, hashType HashType) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	hasher, err := CreateHasher(hashType)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// VerifyChecksum verifies a file against a checksum
func VerifyChecksum(path, expected string) error {
	value, hashType := ParseChecksum(expected)
	actual, err := CalculateFileChecksum(path, hashType)
	if err != nil {
		return fmt.Errorf("failed to calculate checksum: %w", err)
	}
	if !strings.EqualFold(actual, value) {
		return fmt.Errorf("checksum mismatch for %s: expected %s:%s, got %s:%s",
			filepath.Base(path), hashType, value, hashType, actual)
	}
	return nil
}

// ParseChecksumFile finds the entry for filename in a "<hash>  <file>"
// listing such as SHASUMS256.txt. A file holding a single bare checksum is
// also accepted.
func ParseChecksumFile(content, filename string) (value string, hashType HashType, err error) {
	filename = filepath.Base(filename)
	var lines []string

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		// "*" marks binary mode in sha256sum output
		file := strings.TrimPrefix(strings.Join(parts[1:], " "), "*")
		if file == filename || strings.HasSuffix(file, "/"+filename) {
			value, hashType = ParseChecksum(parts[0])
			return value, hashType, nil
		}
	}

	if len(lines) == 1 && valid(lines[0]) {
		value, hashType = ParseChecksum(lines[0])
		return value, hashType, nil
	}
	return "", "", fmt.Errorf("checksum not found for file %s in checksum file", filename)
}

func valid(input string) bool {
	value, hashType := ParseChecksum(input)
	if _, ok := lengths[len(value)]; !ok || !known(hashType) {
		return false
	}
	for _, r := range value {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// Fetch downloads the checksum listing at url and returns the prefixed
// checksum for filename.
func Fetch(ctx context.Context, client *http.Client, url, filename string) (string, error) {
	body, err := toolhttp.Get(ctx, client, url)
	if err != nil {
		return "", err
	}
	value, hashType, err := ParseChecksumFile(string(body), filename)
	if err != nil {
		return "", err
	}
	return FormatChecksum(value, hashType), nil
}
