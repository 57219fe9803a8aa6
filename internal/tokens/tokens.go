// Package tokens estimates how large a prompt is.
package tokens

import (
	"math"
	"unicode/utf8"
)

const charsPerToken = 4

// Estimate approximates the token count of text as one token per four characters.
func Estimate(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / float64(charsPerToken)))
}

// Growth is the relative change in estimated size from before to after. It is 0 when before
// is empty.
func Growth(before, after string) float64 {
	b := Estimate(before)
	if b == 0 {
		return 0
	}
	return float64(Estimate(after)-b) / float64(b)
}
