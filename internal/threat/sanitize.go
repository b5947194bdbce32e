package threat

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength — предел General по умолчанию.
const DefaultMaxLength = 1000

var (
	angleRe       = regexp.MustCompile(`[<>]`)
	jsSchemeRe    = regexp.MustCompile(`(?i)javascript\s*:`)
	inlineEventRe = regexp.MustCompile(`(?i)\bon\w+\s*=`)

	htmlReplacer = strings.NewReplacer(
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
		"/", "&#x2F;",
	)
	sqlReplacer = strings.NewReplacer("'", "", `"`, "", ";", "", `\`, "")
)

// SanitizeInput убирает угловые скобки, схемы javascript: и inline-обработчики
// событий, затем обрезает пробелы. Это дополнительная мера, а не замена
// экранированию при выводе.
func SanitizeInput(input string) string {
	s := angleRe.ReplaceAllString(input, "")
	s = jsSchemeRe.ReplaceAllString(s, "")
	s = inlineEventRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// HTML кодирует < > " ' / как сущности. '&' не кодируется, поэтому
// повторное применение к результату ничего не меняет.
func HTML(input string) string { return htmlReplacer.Replace(input) }

// SQL удаляет кавычки, точки с запятой и обратные слэши.
func SQL(input string) string { return sqlReplacer.Replace(input) }

// Filename заменяет каждый символ вне [A-Za-z0-9._-] на '_'.
func Filename(input string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, input)
}

// General обрезает пробелы и укорачивает строку до maxLen рун
// (maxLen <= 0 — DefaultMaxLength).
func General(input string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	s := strings.TrimSpace(input)
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}

	return string([]rune(s)[:maxLen])
}
