package threat

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectSQLInjection(t *testing.T) {
	t.Parallel()

	d := PatternDetector{}

	tests := []struct {
		in   string
		want bool
	}{
		{"'; DROP TABLE users; --", true},
		{"normal user input", false},
		{"1 UNION select password from users", true},
		{"union", true},
		{"id=5 -- comment", true},
		{"abc#", true},
		{"%27 or 1=1", true},
		{"a%3Bb", true},
		{"a;b", true},
		{"O'Brien", true},
		{"selection of shoes", false},
		{"updated arrivals", false},
		{"red shoes size 42", false},
		{"", false},
	}

	for _, tc := range tests {
		require.Equal(t, tc.want, d.DetectSQLInjection(tc.in), tc.in)
	}
}

func TestDetectXSS(t *testing.T) {
	t.Parallel()

	d := PatternDetector{}

	tests := []struct {
		in   string
		want bool
	}{
		{"<script>alert('xss')</script>", true},
		{"normal text input", false},
		{"<SCRIPT src=x>\n</script >", true},
		{"JavaScript:alert(1)", true},
		{`<img src=x onerror="alert(1)">`, true},
		{"x onload = run()", true},
		{"<iframe src=//evil>", true},
		{"<object data=x>", true},
		{"<embed src=x>", true},
		{"iframe-free text", false},
		{"online shopping", false},
		{"", false},
	}

	for _, tc := range tests {
		require.Equal(t, tc.want, d.DetectXSS(tc.in), tc.in)
	}
}

func TestSanitizeInput(t *testing.T) {
	t.Parallel()

	require.Equal(t, "scriptalert(1)/script", SanitizeInput("  <script>alert(1)</script> "))
	require.Equal(t, "alert(1)", SanitizeInput("javascript:alert(1)"))
	require.Equal(t, `img src=x "alert(1)"`, SanitizeInput(`<img src=x onerror="alert(1)">`))
	require.Equal(t, "plain", SanitizeInput("plain"))
}

func TestHTML(t *testing.T) {
	t.Parallel()

	in := `<a href="/x">it's</a>`
	out := HTML(in)
	require.Equal(t, "&lt;a href=&quot;&#x2F;x&quot;&gt;it&#x27;s&lt;&#x2F;a&gt;", out)
	require.Equal(t, "safe text", HTML("safe text"))
}

func TestHTML_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		`<script>alert("x")</script>`,
		"it's / fine",
		"&lt;already&gt;",
		"",
		"плюс <юникод>",
	}

	for _, in := range inputs {
		once := HTML(in)
		require.Equal(t, once, HTML(once), in)
		require.NotContains(t, once, "&amp;")
	}
}

func TestSQL(t *testing.T) {
	t.Parallel()

	require.Equal(t, " DROP TABLE users --", SQL(`'; DROP TABLE users; --`))
	require.Equal(t, "abc", SQL(`a"b\c`))
}

func TestFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".._.._etc_passwd", Filename("../../etc/passwd"))
	require.Equal(t, "my_file_1.tar.gz", Filename("my file#1.tar.gz"))
	require.Equal(t, "_.png", Filename("ф.png"))
	require.Equal(t, "ok-name_1.txt", Filename("ok-name_1.txt"))
}

func TestGeneral(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", General("  abc  ", 10))
	require.Equal(t, "ab", General("abc", 2))
	require.Equal(t, "пр", General("привет", 2))

	long := strings.Repeat("x", DefaultMaxLength+50)
	require.Len(t, General(long, 0), DefaultMaxLength)
}

func TestScanValues(t *testing.T) {
	t.Parallel()

	d := PatternDetector{}

	_, hit := ScanValues(d, url.Values{"q": {"red shoes"}, "page": {"2"}})
	require.False(t, hit)

	f, hit := ScanValues(d, url.Values{"q": {"shoes"}, "sort": {"price; DROP TABLE orders"}})
	require.True(t, hit)
	require.Equal(t, "sort", f.Param)
	require.Equal(t, KindSQLInjection, f.Kind)

	f, hit = ScanValues(d, url.Values{"q": {"<iframe src=x>"}})
	require.True(t, hit)
	require.Equal(t, KindXSS, f.Kind)

	f, hit = ScanValues(d, url.Values{"q": {"ok", "<script>x</script>"}})
	require.True(t, hit)
	require.Equal(t, "q", f.Param)
	require.Equal(t, KindXSS, f.Kind)

	_, hit = ScanValues(d, nil)
	require.False(t, hit)
}

type stubDetector struct{ sql, xss bool }

func (s stubDetector) DetectSQLInjection(string) bool { return s.sql }
func (s stubDetector) DetectXSS(string) bool          { return s.xss }

func TestScanValues_UsesInjectedDetector(t *testing.T) {
	t.Parallel()

	_, hit := ScanValues(stubDetector{}, url.Values{"q": {"'; DROP TABLE users; --"}})
	require.False(t, hit)

	f, hit := ScanValues(stubDetector{sql: true}, url.Values{"q": {"anything"}})
	require.True(t, hit)
	require.Equal(t, KindSQLInjection, f.Kind)
}

func TestScanQuery(t *testing.T) {
	t.Parallel()

	d := PatternDetector{}

	_, hit := ScanQuery(d, "q=red+shoes&page=2")
	require.False(t, hit)

	_, hit = ScanQuery(d, "")
	require.False(t, hit)

	tests := []struct {
		name string
		raw  string
		kind string
	}{
		{name: "raw semicolon", raw: "q=x';DROP%20TABLE%20users;--", kind: KindMalformedQuery},
		{name: "bad escape", raw: "q=%3Cscript%3Ealert(1)%3C/script%3E%zz", kind: KindMalformedQuery},
		{name: "bad escape in other pair", raw: "q=%3Cscript%3Ealert(1)%3C/script%3E&x=%zz", kind: KindXSS},
		{name: "encoded sql", raw: "q=x%27%3B%20DROP%20TABLE%20users", kind: KindSQLInjection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, hit := ScanQuery(d, tt.raw)
			require.True(t, hit)
			require.Equal(t, tt.kind, f.Kind)
		})
	}
}
