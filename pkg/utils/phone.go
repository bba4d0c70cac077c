// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import "strings"

// NormalizePhone strips the separators callers commonly paste along with a
// number: leading plus, dashes, parentheses and spaces. The result is the
// digits-only form used as the canonical phone key.
func NormalizePhone(raw string) string {
	replacer := strings.NewReplacer("+", "", "-", "", "(", "", ")", "", " ", "")
	return replacer.Replace(strings.TrimSpace(raw))
}

// ValidDestination reports whether digits is a dialable destination: digits
// only, 11 to 15 characters, country code 7.
func ValidDestination(digits string) bool {
	if len(digits) < 11 || len(digits) > 15 {
		return false
	}
	if digits[0] != '7' {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
