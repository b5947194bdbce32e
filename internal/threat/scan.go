package threat

import (
	"net/url"
	"sort"
)

const (
	KindSQLInjection = "sql_injection"
	KindXSS          = "xss"
	// KindMalformedQuery — query, который не разбирается строго (сырой ';',
	// битый %-escape). Такие пары url.URL.Query() молча отбрасывает, а
	// upstream получает их как есть.
	KindMalformedQuery = "malformed_query"
)

// Finding — первое срабатывание при сканировании параметров.
type Finding struct {
	Param string
	Kind  string
	Value string
}

// ScanValues проверяет каждое значение каждого параметра. Проверяются и
// исходное значение, и результат SanitizeInput: санитайзер удаляет угловые
// скобки, и XSS в очищенной строке уже не виден. Параметры обходятся в
// отсортированном порядке, результат детерминирован.
func ScanValues(d Detector, values url.Values) (Finding, bool) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, raw := range values[k] {
			if kind, hit := scanOne(d, raw); hit {
				return Finding{Param: k, Kind: kind, Value: raw}, true
			}
		}
	}

	return Finding{}, false
}

// ScanQuery разбирает сырой query строго и сканирует значения. Ошибка
// разбора сама по себе — срабатывание.
func ScanQuery(d Detector, rawQuery string) (Finding, bool) {
	values, err := url.ParseQuery(rawQuery)
	if f, hit := ScanValues(d, values); hit {
		return f, true
	}
	if err != nil {
		return Finding{Kind: KindMalformedQuery, Value: rawQuery}, true
	}
	return Finding{}, false
}

func scanOne(d Detector, raw string) (string, bool) {
	for _, v := range []string{raw, SanitizeInput(raw)} {
		if d.DetectXSS(v) {
			return KindXSS, true
		}
		if d.DetectSQLInjection(v) {
			return KindSQLInjection, true
		}
	}
	return "", false
}
