package handlers

// digitsOnly reports whether s is non-empty and contains only ASCII digits.
func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// validPhone accepts numeric phone numbers of at least 10 digits.
func validPhone(phone string) bool {
	return digitsOnly(phone) && len(phone) >= 10
}

// validIDNumber accepts exactly nine digits, the national id format.
func validIDNumber(id string) bool {
	return digitsOnly(id) && len(id) == 9
}
