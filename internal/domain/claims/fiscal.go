package claims

import (
	"regexp"
	"strings"
)

// FiscalCodeResult classifies a fiscal code check. The distinct check-digit
// failures are kept apart from plain format failures so callers can log the
// difference.
type FiscalCodeResult int

const (
	FiscalCodeInvalid FiscalCodeResult = iota
	FiscalCodeOK16
	FiscalCodeOK11
	FiscalCodeBadCheck16
	FiscalCodeBadCheck11
	FiscalCodeENI
	FiscalCodeSTP
)

var (
	fiscal16Re = regexp.MustCompile(`^[0-9A-Z]{16}$`)
	fiscal11Re = regexp.MustCompile(`^[0-9]{11}$`)
	tempCodeRe = regexp.MustCompile(`^[0-9]{13}$`)
)

// oddValues maps character positions weighted as odd (1st, 3rd, ...) in the
// 16-character check computation. Index 0-9 for digits, 10-35 for A-Z.
var oddValues = [...]int{
	1, 0, 5, 7, 9, 13, 15, 17, 19, 21,
	1, 0, 5, 7, 9, 13, 15, 17, 19, 21, 2, 4, 18, 20,
	11, 3, 6, 8, 12, 14, 16, 10, 22, 25, 24, 23,
}

func charValue(c byte) int {
	if c >= '0' && c <= '9' {
		return int(c - '0')
	}
	return int(c-'A') + 10
}

// ValidateFiscalCode classifies code following the national person-identifier
// rules: a 16-character code with its check character, an 11-digit numeric
// code with its check digit, or an ENI/STP temporary code.
func ValidateFiscalCode(code string) FiscalCodeResult {
	code = strings.ToUpper(strings.TrimSpace(code))

	switch {
	case len(code) == 16 && strings.HasPrefix(code, "ENI"):
		if tempCodeRe.MatchString(code[3:]) {
			return FiscalCodeENI
		}
		return FiscalCodeInvalid
	case len(code) == 16 && strings.HasPrefix(code, "STP"):
		if tempCodeRe.MatchString(code[3:]) {
			return FiscalCodeSTP
		}
		return FiscalCodeInvalid
	case fiscal16Re.MatchString(code):
		if checkChar16(code[:15]) == code[15] {
			return FiscalCodeOK16
		}
		return FiscalCodeBadCheck16
	case fiscal11Re.MatchString(code):
		if checkDigit11(code[:10]) == code[10] {
			return FiscalCodeOK11
		}
		return FiscalCodeBadCheck11
	}
	return FiscalCodeInvalid
}

// IsValidFiscalCode reports whether code passes as any accepted identifier form.
func IsValidFiscalCode(code string) bool {
	switch ValidateFiscalCode(code) {
	case FiscalCodeOK16, FiscalCodeOK11, FiscalCodeENI, FiscalCodeSTP:
		return true
	}
	return false
}

func checkChar16(body string) byte {
	sum := 0
	for i := 0; i < len(body); i++ {
		v := charValue(body[i])
		if i%2 == 0 {
			sum += oddValues[v]
		} else {
			if body[i] >= 'A' {
				v -= 10
			}
			sum += v
		}
	}
	return byte('A' + sum%26)
}

func checkDigit11(body string) byte {
	sum := 0
	for i := 0; i < len(body); i++ {
		d := int(body[i] - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10)
}
