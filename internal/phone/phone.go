// Package phone normalizes WhatsApp/E.164 phone numbers and derives stable
// session keys from them.
package phone

import (
	"regexp"
	"sort"
	"strings"
)

const whatsappPrefix = "whatsapp:"

var (
	formatting    = regexp.MustCompile(`[\s\-().]`)
	nonDigitPlus  = regexp.MustCompile(`[^\d+]`)
	international = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	allDigits     = regexp.MustCompile(`^\d+$`)
)

var countryCodes = map[string]string{
	"+1": "US/CA", "+44": "UK", "+49": "DE", "+33": "FR", "+39": "IT",
	"+34": "ES", "+81": "JP", "+86": "CN", "+91": "IN", "+55": "BR",
	"+7": "RU", "+61": "AU", "+31": "NL", "+46": "SE", "+47": "NO",
	"+45": "DK", "+41": "CH", "+43": "AT", "+32": "BE", "+351": "PT",
	"+30": "GR", "+48": "PL", "+420": "CZ", "+36": "HU", "+40": "RO",
	"+421": "SK", "+385": "HR", "+386": "SI", "+372": "EE", "+371": "LV",
	"+370": "LT", "+358": "FI", "+354": "IS",
}

// codesByLength lists country codes longest first so "+351" wins over "+35".
var codesByLength = func() []string {
	codes := make([]string, 0, len(countryCodes))
	for c := range countryCodes {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		if len(codes[i]) != len(codes[j]) {
			return len(codes[i]) > len(codes[j])
		}
		return codes[i] < codes[j]
	})
	return codes
}()

var sandboxNumbers = map[string]bool{
	"+14155238886": true,
	"+15005550006": true,
	"+15005550001": true,
}

// StripChannel removes the "whatsapp:" address prefix Twilio puts on numbers.
func StripChannel(addr string) string {
	return strings.TrimPrefix(strings.TrimSpace(addr), whatsappPrefix)
}

// Normalize returns addr in +digits form. Ten bare digits are taken as a
// North American number; anything else without a plus gets one prepended.
func Normalize(addr string) string {
	n := nonDigitPlus.ReplaceAllString(StripChannel(addr), "")
	if n == "" || strings.HasPrefix(n, "+") {
		return n
	}
	if len(n) == 10 {
		return "+1" + n
	}
	return "+" + n
}

// SessionKey derives the conversation key for a phone address: the
// normalized number without its plus sign. Distinct normalized numbers map
// to distinct keys.
func SessionKey(addr string) string {
	return strings.TrimPrefix(Normalize(addr), "+")
}

// IsValid reports whether addr looks like an international number, with or
// without the whatsapp: prefix.
func IsValid(addr string) bool {
	if strings.HasPrefix(addr, whatsappPrefix) {
		return international.MatchString(strings.TrimPrefix(addr, whatsappPrefix))
	}
	return international.MatchString(formatting.ReplaceAllString(addr, ""))
}

// IsValidWhatsApp applies WhatsApp's E.164 rules: 7 to 15 digits and no
// leading zero after the country code.
func IsValidWhatsApp(addr string) bool {
	n := Normalize(addr)
	if !strings.HasPrefix(n, "+") {
		return false
	}
	digits := n[1:]
	if len(digits) < 7 || len(digits) > 15 || !allDigits.MatchString(digits) {
		return false
	}
	return !strings.HasPrefix(Country(n).Number, "0")
}

// IsSandbox reports whether addr is one of Twilio's test numbers.
func IsSandbox(addr string) bool {
	return sandboxNumbers[Normalize(addr)]
}

// CountryInfo splits a number into its country calling code and subscriber part.
type CountryInfo struct {
	Code    string
	Country string
	Number  string
}

func Country(addr string) CountryInfo {
	n := Normalize(addr)
	for _, code := range codesByLength {
		if strings.HasPrefix(n, code) {
			return CountryInfo{Code: code, Country: countryCodes[code], Number: n[len(code):]}
		}
	}
	return CountryInfo{Code: "unknown", Country: "Unknown", Number: strings.TrimPrefix(n, "+")}
}

// Display formats addr for humans, e.g. "+1 (555) 123-4567".
func Display(addr string) string {
	info := Country(addr)
	num := info.Number
	switch {
	case info.Code == "+1" && len(num) == 10:
		return info.Code + " (" + num[:3] + ") " + num[3:6] + "-" + num[6:]
	case info.Code == "unknown":
		return Normalize(addr)
	case len(num) >= 10:
		return info.Code + " " + num[:3] + " " + num[3:6] + " " + num[6:]
	case len(num) >= 7:
		return info.Code + " " + num[:3] + " " + num[3:]
	}
	return Normalize(addr)
}
