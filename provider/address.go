package provider

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

var ErrBadAddress = errors.New("malformed account address")

// NormalizeAddress lowercase-folds a 0x-prefixed 20-byte hex address. All
// addresses held by the engine are in this form; checksummed variants are
// accepted on input only.
func NormalizeAddress(addr string) (string, error) {
	if len(addr) != 42 || addr[0] != '0' || (addr[1] != 'x' && addr[1] != 'X') {
		return "", errors.Wrapf(ErrBadAddress, "address %q", addr)
	}

	lower := strings.ToLower(addr)

	for i := 2; i < len(lower); i++ {
		c := lower[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", errors.Wrapf(ErrBadAddress, "address %q", addr)
		}
	}

	return lower, nil
}

// ChecksumAddress renders a normalized address in mixed case for display,
// uppercasing each hex letter whose keccak digest nibble is >= 8.
func ChecksumAddress(addr string) (string, error) {
	lower, err := NormalizeAddress(addr)
	if err != nil {
		return "", err
	}

	hexPart := lower[2:]

	hash := sha3.NewLegacyKeccak256()
	_, _ = hash.Write([]byte(hexPart))
	sum := hash.Sum(nil)

	out := []byte(hexPart)
	for i := range out {
		if out[i] < 'a' {
			continue
		}

		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}

		if nibble&0x0f >= 8 {
			out[i] -= 'a' - 'A'
		}
	}

	return "0x" + string(out), nil
}
