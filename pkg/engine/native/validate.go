package native

import "strings"

// validateEmail applies structural checks beyond the detection regex: a
// single @, and a domain with at least one dot and no empty labels.
func validateEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	domain := parts[1]
	return strings.Contains(domain, ".") && !strings.Contains(domain, "..")
}

// validateLuhn checks a candidate card number with the Luhn checksum.
// Separators are stripped first; 13 to 19 digits are accepted.
func validateLuhn(cardNumber string) bool {
	var digits []byte
	for i := 0; i < len(cardNumber); i++ {
		if c := cardNumber[i]; c >= '0' && c <= '9' {
			digits = append(digits, c-'0')
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alternate := false
	for i := len(digits) - 1; i >= 0; i-- {
		digit := int(digits[i])
		if alternate {
			digit *= 2
			if digit > 9 {
				digit = digit/10 + digit%10
			}
		}
		sum += digit
		alternate = !alternate
	}
	return sum%10 == 0
}
