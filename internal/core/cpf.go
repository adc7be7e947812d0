package core

// cpf.go implements the CPF (Cadastro de Pessoas Físicas) checksum.
//
// A CPF has nine base digits followed by two check digits. Each check digit
// is a weighted sum mod 11 over the digits before it, with weights counting
// down to 2. Results of 10 or 11 become 0.

// CPFLength is the number of digits in a CPF.
const CPFLength = 11

// ValidateCPF reports whether input holds a valid CPF.
// Non-digit characters are ignored, so "529.982.247-25" and "52998224725"
// are equivalent. Never panics; any other input returns false.
func ValidateCPF(input string) bool {
	digits := make([]int, 0, CPFLength)
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}

	if len(digits) != CPFLength {
		return false
	}

	if allSame(digits) {
		return false
	}

	if checkDigit(digits[:9], 10) != digits[9] {
		return false
	}
	return checkDigit(digits[:10], 11) == digits[10]
}

// checkDigit computes one CPF check digit. Weight starts at firstWeight for
// digits[0] and decreases by one per position.
func checkDigit(digits []int, firstWeight int) int {
	sum := 0
	for i, d := range digits {
		sum += d * (firstWeight - i)
	}
	rem := 11 - sum%11
	if rem == 10 || rem == 11 {
		return 0
	}
	return rem
}

func allSame(digits []int) bool {
	for _, d := range digits[1:] {
		if d != digits[0] {
			return false
		}
	}
	return true
}

// NormalizeCPF strips everything but ASCII digits and caps the result at
// CPFLength. truncated is true when digits were dropped by the cap.
func NormalizeCPF(value string) (digits string, truncated bool) {
	buf := make([]byte, 0, CPFLength)
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c < '0' || c > '9' {
			continue
		}
		if len(buf) == CPFLength {
			truncated = true
			continue
		}
		buf = append(buf, c)
	}
	return string(buf), truncated
}
