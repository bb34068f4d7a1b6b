package snapshot

import (
	"fmt"
	"strings"
	"unicode"
)

// Номер CNJ: NNNNNNN-DD.AAAA.J.TR.OOOO
var (
	caseGroups     = []int{7, 2, 4, 1, 2, 4}
	caseSeparators = []string{"-", ".", ".", ".", "."}
)

// CaseNumberDigits количество цифр в номере CNJ
const CaseNumberDigits = 20

// ValidationError описывает некорректный номер процесса
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("некорректный номер процесса %q: %s", e.Input, e.Reason)
}

// FormatCaseNumber форматирует номер по мере ввода: лишние символы
// отбрасываются, разделители вставляются только после введенных цифр
func FormatCaseNumber(input string) string {
	digits := caseDigits(input)
	if len(digits) > CaseNumberDigits {
		digits = digits[:CaseNumberDigits]
	}

	var b strings.Builder
	pos := 0
	for i, size := range caseGroups {
		if pos >= len(digits) {
			break
		}
		if i > 0 {
			b.WriteString(caseSeparators[i-1])
		}
		end := min(pos+size, len(digits))
		b.WriteString(digits[pos:end])
		pos = end
	}
	return b.String()
}

// ValidateCaseNumber проверяет номер при потере фокуса; пустой номер допустим
func ValidateCaseNumber(input string) error {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}
	for _, r := range trimmed {
		if !unicode.IsDigit(r) && !strings.ContainsRune("-. ", r) {
			return &ValidationError{Input: input, Reason: fmt.Sprintf("недопустимый символ %q", r)}
		}
	}
	if n := len(caseDigits(trimmed)); n != CaseNumberDigits {
		return &ValidationError{Input: input, Reason: fmt.Sprintf("ожидается %d цифр, получено %d", CaseNumberDigits, n)}
	}
	return nil
}

// NormalizeCaseNumber возвращает канонический номер, если он полный
func NormalizeCaseNumber(input string) (string, bool) {
	if strings.TrimSpace(input) == "" || ValidateCaseNumber(input) != nil {
		return "", false
	}
	return FormatCaseNumber(input), true
}

func caseDigits(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
