package helpers

import (
	"regexp"
	"strings"
)

var orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidOrderID reports whether s is usable as a gateway order id.
func ValidOrderID(s string) bool {
	return orderIDPattern.MatchString(s)
}

// SplitName breaks a full name into first and last parts on the first space.
func SplitName(full string) (first, last string) {
	full = strings.Join(strings.Fields(full), " ")
	first, last, _ = strings.Cut(full, " ")
	return first, last
}
