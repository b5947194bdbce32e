// redact предоставляет утилиты безопасного редактирования чувствительных
// данных для логов (e-mail, токены, подозрительные входные значения).
package redact

import "strings"

// payloadLimit — сколько рун подозрительного значения допускается в лог.
const payloadLimit = 32

// Email маскирует e-mail для логирования.
//
// Правила:
//   - Строка должна содержать РОВНО один символ '@', иначе возвращается "***";
//   - Локальная часть заменяется на первые две руны + "***";
//   - Если длина локальной части ≤ 2 рун — возвращается "***@<domain>";
//   - Доменная часть не меняется.
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Token возвращает литерал-заглушку для токена в логах.
func Token() string { return "[REDACTED_TOKEN]" }

// Payload обрезает недоверенное значение до короткого префикса, чтобы
// атакующий не мог раздуть лог или протащить в него многострочный мусор.
func Payload(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)

	rs := []rune(s)
	if len(rs) <= payloadLimit {
		return s
	}

	return string(rs[:payloadLimit]) + "..."
}
