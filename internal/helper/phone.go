package helper

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	validPhoneChars = regexp.MustCompile(`^[\d\s\+\-\(\)]+$`)
	nonDigits       = regexp.MustCompile(`[^\d]`)
)

// DigitsOnly strips everything but digits from a phone number.
func DigitsOnly(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

// FormatPhoneNumber converts a phone number to a WhatsApp user JID.
// Indonesian numbers get the usual 0xxx/8xxx → 62xxx normalization.
func FormatPhoneNumber(phone string) (types.JID, error) {
	if !validPhoneChars.MatchString(phone) {
		return types.JID{}, fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := DigitsOnly(phone)
	if len(cleaned) < 9 {
		return types.JID{}, fmt.Errorf("phone number too short")
	}

	// 0xxx → 62xxx
	if strings.HasPrefix(cleaned, "0") {
		cleaned = "62" + cleaned[1:]
	}
	// bare 8xxx → 62xxx
	if strings.HasPrefix(cleaned, "8") && !strings.HasPrefix(cleaned, "62") {
		cleaned = "62" + cleaned
	}

	if len(cleaned) < 11 || len(cleaned) > 15 {
		return types.JID{}, fmt.Errorf("invalid phone number length")
	}

	return types.JID{
		User:   cleaned,
		Server: types.DefaultUserServer,
	}, nil
}

// ExtractPhoneFromJID pulls the bare number out of a full JID string,
// e.g. "6285148107612:43@s.whatsapp.net" -> "6285148107612".
func ExtractPhoneFromJID(jid string) string {
	beforeAt, _, _ := strings.Cut(jid, "@")
	phone, _, _ := strings.Cut(beforeAt, ":")
	return phone
}
