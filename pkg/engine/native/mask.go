package native

import "strings"

// maskValue produces a format-preserving mask for a detected value. Each PII
// class keeps just enough of the original to stay recognisable: the first
// letter of an email local part, the last four digits of phone numbers,
// SSNs, and cards.
func maskValue(value, piiType string) string {
	switch piiType {
	case TypeEmail:
		at := strings.Index(value, "@")
		if at > 0 {
			return value[:1] + "***" + value[at:]
		}
		return "***@domain.com"

	case TypePhone:
		digits := digitsOf(value)
		if len(digits) >= 4 {
			return "***-***-" + digits[len(digits)-4:]
		}
		return "***-***-****"

	case TypeSSN:
		if len(value) >= 4 {
			return "***-**-" + value[len(value)-4:]
		}
		return "***-**-****"

	case TypeCreditCard:
		digits := digitsOf(value)
		if len(digits) >= 4 {
			return "**** **** **** " + digits[len(digits)-4:]
		}
		return "**** **** **** ****"

	default:
		return "***"
	}
}

func digitsOf(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if c := value[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
