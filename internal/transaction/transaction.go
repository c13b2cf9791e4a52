// Package transaction defines the Transaction item, its field mappers for every source
// and sink, and the import and export jobs built from them.
package transaction

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the timestamp format of both the delimited and the markup sources.
const TimestampLayout = "2006-01-02 15:04:05"

// Transaction is one account movement.
type Transaction struct {
	Account   string
	Amount    Amount
	Timestamp time.Time
}

// Amount is a money value in hundredths. It is exact to two decimal places.
type Amount int64

// ParseAmount parses a decimal with at most two fractional digits, such as "-12.5".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	digits := s
	switch digits[0] {
	case '-':
		neg = true
		digits = digits[1:]
	case '+':
		digits = digits[1:]
	}
	whole, frac, hasFrac := strings.Cut(digits, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("invalid amount %q: at most two decimal places", s)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if w > (1<<63-1-f)/100 {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return Amount(cents), nil
}

// Cents returns the amount in hundredths.
func (a Amount) Cents() int64 { return int64(a) }

// String formats the amount with exactly two decimals.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
