package keyderive

import (
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Method is a key derivation hash algorithm.
type Method string

// Supported methods.
const (
	// Shake256 is the SHAKE256 extendable-output function.
	Shake256 Method = "shake256"

	// SHA3_512 is SHA3-512 truncated to the key length (at most 64 bytes).
	SHA3_512 Method = "sha3_512"

	// BLAKE3 is the BLAKE3 XOF. Optional: absent from builds tagged noblake3.
	BLAKE3 Method = "blake3"
)

// sha3512Size is the output size of SHA3-512 in bytes.
const sha3512Size = 64

// blake3XOF is set by blake3.go when the implementation is compiled in.
var blake3XOF func(data []byte, n int) ([]byte, error)

// Methods returns every recognised method, available or not.
func Methods() []Method {
	return []Method{Shake256, SHA3_512, BLAKE3}
}

// ParseMethod validates a method name at the boundary.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case Shake256, SHA3_512, BLAKE3:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
}

// Available reports whether the implementation behind m is present in this
// build. Unknown methods are never available.
func Available(m Method) bool {
	switch m {
	case Shake256, SHA3_512:
		return true
	case BLAKE3:
		return blake3XOF != nil
	default:
		return false
	}
}

// MaxKeyLength returns the longest key m can produce, or 0 when unbounded.
func MaxKeyLength(m Method) int {
	if m == SHA3_512 {
		return sha3512Size
	}
	return 0
}

// digest hashes data with m to exactly n bytes. Callers have already checked
// that m is known, available and able to produce n bytes.
func digest(m Method, data []byte, n int) ([]byte, error) {
	switch m {
	case Shake256:
		out := make([]byte, n)
		h := sha3.NewShake256()
		h.Write(data)
		if _, err := h.Read(out); err != nil {
			return nil, err
		}
		return out, nil
	case SHA3_512:
		sum := sha3.Sum512(data)
		return sum[:n], nil
	case BLAKE3:
		return blake3XOF(data, n)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, string(m))
	}
}
