package store

import "regexp"

// hashPattern matches a lowercase 0x-prefixed 32-byte hex digest, the store
// layer's final defense behind application-level validation (spec §4.9).
var hashPattern = regexp.MustCompile(`^0x[a-f0-9]{64}$`)

func isValidHash(s string) bool {
	return hashPattern.MatchString(s)
}
