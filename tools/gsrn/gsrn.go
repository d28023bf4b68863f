package gsrn

import (
	"fmt"
)

// Length is the fixed digit count of a Global Service Relation Number.
const Length = 18

// Validate checks that a GSRN is exactly 18 digits with a valid GS1
// mod-10 check digit in the last position.
func Validate(gsrn string) error {
	if len(gsrn) != Length {
		return fmt.Errorf("gsrn '%s' must be %d digits, got %d", gsrn, Length, len(gsrn))
	}
	for i := 0; i < len(gsrn); i++ {
		if gsrn[i] < '0' || gsrn[i] > '9' {
			return fmt.Errorf("gsrn '%s' contains non-digit character at position %d", gsrn, i)
		}
	}
	if expected := CheckDigit(gsrn[:Length-1]); byte(expected)+'0' != gsrn[Length-1] {
		return fmt.Errorf("gsrn '%s' has invalid check digit, expected %d", gsrn, expected)
	}
	return nil
}

// CheckDigit computes the GS1 mod-10 check digit for the 17-digit body.
// Weights alternate 3,1 from the rightmost body digit.
func CheckDigit(body string) int {
	sum := 0
	weight := 3
	for i := len(body) - 1; i >= 0; i-- {
		sum += int(body[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	return (10 - sum%10) % 10
}
