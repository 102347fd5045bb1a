package utility

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Token generates a random base36 token of the given length.
// Used for record ids when the applicant link does not carry one.
func Token(length int) string {
	var sb strings.Builder

	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken;
			// fall back to the first symbol rather than panic mid-form.
			sb.WriteByte(tokenAlphabet[0])

			continue
		}

		sb.WriteByte(tokenAlphabet[n.Int64()])
	}

	return sb.String()
}

// DisplayToken generates a display identifier like "INS-4F7K2Q" or "REF-9A01ZX".
func DisplayToken(prefix string) string {
	const displayLength = 6

	return prefix + "-" + strings.ToUpper(Token(displayLength))
}
