// Package phone formats Brazilian mobile numbers as they are typed on the
// kiosk keypad: (DD) DDDDD-DDDD.
package phone

import (
	"fmt"
	"strings"
)

// MaxDigits is area code plus nine digits.
const MaxDigits = 11

// Digits strips everything that is not an ASCII digit.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Format keeps at most MaxDigits digits and inserts separators after the
// area code and after the fifth subscriber digit.
func Format(s string) string {
	d := Digits(s)
	if len(d) > MaxDigits {
		d = d[:MaxDigits]
	}
	switch {
	case len(d) <= 2:
		return d
	case len(d) <= 7:
		return fmt.Sprintf("(%s) %s", d[:2], d[2:])
	default:
		return fmt.Sprintf("(%s) %s-%s", d[:2], d[2:7], d[7:])
	}
}

// Valid reports whether s holds 10 or 11 digits.
func Valid(s string) bool {
	n := len(Digits(s))
	return n >= 10 && n <= MaxDigits
}

// Press appends digit while there is room and returns the formatted value.
// Anything other than a single digit is ignored.
func Press(current, digit string) string {
	d := Digits(current)
	if len(digit) == 1 && digit[0] >= '0' && digit[0] <= '9' && len(d) < MaxDigits {
		d += digit
	}
	return Format(d)
}

// Backspace drops the last digit and returns the formatted value.
func Backspace(current string) string {
	d := Digits(current)
	if len(d) > 0 {
		d = d[:len(d)-1]
	}
	return Format(d)
}
