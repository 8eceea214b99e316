// Package privacy masks user identifiers and credentials before they reach logs.
package privacy

import (
	"strings"

	"signalrelay/internal/constants"

	"github.com/sirupsen/logrus"
)

// MaskID keeps the last few characters of an identifier.
// Example: "184467440737095516" -> "************095516"
func MaskID(id string) string {
	return maskString(id, constants.DefaultIDMaskLength)
}

// MaskEmail keeps the first character of the local part and the domain.
// Example: "trader@example.com" -> "t*****@example.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskString(email, 0)
	}
	local := email[:at]
	return local[:1] + strings.Repeat("*", len(local)-1) + email[at:]
}

// MaskToken hides a credential completely, keeping only its scheme.
// Example: "Bearer abc.def" -> "Bearer ***"
func MaskToken(value string) string {
	if value == "" {
		return ""
	}
	if scheme, _, ok := strings.Cut(value, " "); ok {
		return scheme + " ***"
	}
	return "***"
}

func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskFields returns a copy of fields with known identifier keys masked
func MaskFields(fields logrus.Fields) logrus.Fields {
	if fields == nil {
		return nil
	}
	masked := make(logrus.Fields, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case constants.LogFieldUserID, constants.LogFieldDiscordUserID, "userId", "discordUserId":
			masked[k] = MaskID(s)
		case "email":
			masked[k] = MaskEmail(s)
		case "authorization", "token", "claim_token", "claimToken":
			masked[k] = MaskToken(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
