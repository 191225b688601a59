/*
idnumber.go - National ID validation and masking

The borrower's national ID is a 13-digit number whose last digit is a
Luhn-style checksum over the whole string. Validation runs before any
customer mutation; a structurally bad or checksum-failing ID is a
ValidationError, never a silent acceptance.

Masking keeps the first 4 and last 3 digits for low-privilege display
(birth-date prefix stays readable for staff, the serial portion does not).
*/
package engine

// ValidateIDNumber checks a 13-digit national ID: digits only, correct
// length, and Luhn checksum summing to a multiple of ten.
func ValidateIDNumber(id string) error {
	if len(id) != 13 {
		return Validationf("id_number", "must be exactly 13 digits")
	}
	total := 0
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < '0' || c > '9' {
			return Validationf("id_number", "must be exactly 13 digits")
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		total += d
	}
	if total%10 != 0 {
		return Validationf("id_number", "invalid checksum")
	}
	return nil
}

// MaskIDNumber replaces the middle of a 13-digit ID with asterisks, keeping
// the first 4 and last 3 digits. Anything that is not 13 characters long is
// masked entirely.
func MaskIDNumber(id string) string {
	if len(id) != 13 {
		return "***********"
	}
	return id[:4] + "******" + id[10:]
}
