package gsrn_test

import (
	"fmt"
	"testing"

	"github.com/energyorigin/certificate-worker/tools/gsrn"
)

// validGSRN builds an 18-digit GSRN from a 17-digit body by appending
// the computed check digit.
func validGSRN(body string) string {
	return fmt.Sprintf("%s%d", body, gsrn.CheckDigit(body))
}

func TestValidate_AcceptsValidGSRN(t *testing.T) {
	id := validGSRN("57131300000000123")
	if err := gsrn.Validate(id); err != nil {
		t.Errorf("Expected valid gsrn, got error: %v", err)
	}
}

func TestValidate_RejectsWrongLength(t *testing.T) {
	if err := gsrn.Validate("571313"); err == nil {
		t.Error("Expected error for short gsrn")
	}
	if err := gsrn.Validate(validGSRN("57131300000000123") + "0"); err == nil {
		t.Error("Expected error for long gsrn")
	}
}

func TestValidate_RejectsNonDigits(t *testing.T) {
	if err := gsrn.Validate("57131300000000abc1"); err == nil {
		t.Error("Expected error for non-digit characters")
	}
}

func TestValidate_RejectsBadCheckDigit(t *testing.T) {
	body := "57131300000000123"
	good := gsrn.CheckDigit(body)
	bad := (good + 1) % 10
	id := fmt.Sprintf("%s%d", body, bad)

	if err := gsrn.Validate(id); err == nil {
		t.Errorf("Expected error for wrong check digit on %s", id)
	}
}

func TestCheckDigit_KnownValue(t *testing.T) {
	// GS1 mod-10 over all-zero body: sum 0, check digit 0.
	if d := gsrn.CheckDigit("00000000000000000"); d != 0 {
		t.Errorf("Expected check digit 0 for zero body, got %d", d)
	}
}
