package interview

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// CodeSource produces identity challenge codes.
type CodeSource func() (string, error)

var codeSpace = big.NewInt(10000)

// RandomCodes draws four digit codes uniformly from r.
// A nil reader uses crypto/rand.
func RandomCodes(r io.Reader) CodeSource {
	if r == nil {
		r = rand.Reader
	}
	return func() (string, error) {
		n, err := rand.Int(r, codeSpace)
		if err != nil {
			return "", fmt.Errorf("generate challenge code: %w", err)
		}
		return fmt.Sprintf("%04d", n.Int64()), nil
	}
}

// FixedCode always returns code.
func FixedCode(code string) CodeSource {
	return func() (string, error) { return code, nil }
}
