package moderation

import (
	"math/rand/v2"
	"unicode/utf8"
)

const maskAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*"

// Mask returns random characters from a fixed alphabet, one per rune of text.
// The output never carries any information about the original content besides its length.
func Mask(text string) string {
	n := utf8.RuneCountInString(text)
	out := make([]byte, n)
	for i := range out {
		out[i] = maskAlphabet[rand.IntN(len(maskAlphabet))]
	}
	return string(out)
}
