package messaging

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/lucasplcorrea/EnviaFolha/internal/common"
)

// DefaultRegion is assumed for numbers without a country code.
const DefaultRegion = "BR"

// FormatPhone validates a raw roster phone number and returns it in
// E.164 digits without the leading plus, the form the channel expects.
// Spreadsheet NaN cells arrive as the literal string "nan".
func FormatPhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return "", common.NewAppError("INVALID_PHONE", "invalid phone", common.ErrInvalidInput)
	}

	digits := digitsOnly(raw)
	if len(digits) < 8 {
		return "", common.NewAppError("INVALID_PHONE", "invalid phone: number too short", common.ErrInvalidInput)
	}

	// Numbers without a country code default to Brazil, and Brazilian
	// mobiles that predate the ninth digit get it inserted after the
	// area code.
	if !strings.HasPrefix(digits, "55") && len(digits) >= 10 {
		digits = "55" + digits
	}
	if len(digits) == 12 && digits[4] != '9' {
		digits = digits[:4] + "9" + digits[4:]
	}

	num, err := phonenumbers.Parse("+"+digits, "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		num, err = phonenumbers.Parse(raw, DefaultRegion)
		if err != nil {
			return "", common.NewAppError("INVALID_PHONE",
				fmt.Sprintf("invalid phone: %v", err), common.ErrInvalidInput)
		}
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", common.NewAppError("INVALID_PHONE", "invalid phone", common.ErrInvalidInput)
	}

	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
