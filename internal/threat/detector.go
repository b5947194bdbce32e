// threat — эвристические детекторы SQL-инъекций и XSS и набор санитайзеров.
//
// Детекторы консервативны: ложное срабатывание предпочтительнее пропуска.
// Все функции чистые и безопасны для конкурентного вызова.
package threat

import "regexp"

// Detector — проверка недоверенного ввода. Реализация по умолчанию —
// PatternDetector; edge-политика зависит только от интерфейса.
type Detector interface {
	DetectSQLInjection(input string) bool
	DetectXSS(input string) bool
}

var (
	sqlKeywordRe = regexp.MustCompile(`(?i)\b(UNION|SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER)\b`)
	// Кавычка, комментарии, разделитель операторов и их URL-кодированные формы.
	sqlMetaRe = regexp.MustCompile(`(?i)('|--|#|;|%27|%23|%3b)`)

	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)\bon\w+\s*=`),
		regexp.MustCompile(`(?i)<iframe\b`),
		regexp.MustCompile(`(?i)<object\b`),
		regexp.MustCompile(`(?i)<embed\b`),
	}
)

// PatternDetector — детектор на регулярных выражениях.
type PatternDetector struct{}

func (PatternDetector) DetectSQLInjection(input string) bool {
	return sqlKeywordRe.MatchString(input) || sqlMetaRe.MatchString(input)
}

func (PatternDetector) DetectXSS(input string) bool {
	for _, re := range xssPatterns {
		if re.MatchString(input) {
			return true
		}
	}
	return false
}
