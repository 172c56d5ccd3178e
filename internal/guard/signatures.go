package guard

import "regexp"

const (
	CategorySQLInjection = "sql_injection"
	CategoryXSS          = "xss"
)

// Signature is a named attack pattern.
type Signature struct {
	Name     string
	Category string
	Pattern  *regexp.Regexp
}

func sig(category, name, expr string) Signature {
	return Signature{Name: name, Category: category, Pattern: regexp.MustCompile(expr)}
}

// DefaultSQLSignatures returns the built-in SQL injection rules, checked in order.
func DefaultSQLSignatures() []Signature {
	return []Signature{
		sig(CategorySQLInjection, "sqli-tautology", `(?i)\b(or|and)\b\s+['"]?\w+['"]?\s*=\s*['"]?\w+['"]?`),
		sig(CategorySQLInjection, "sqli-quoted-tautology", `(?i)'\s*(or|and)\s*'[^']*'\s*=\s*'`),
		sig(CategorySQLInjection, "sqli-union-select", `(?i)\bunion\b(\s+all)?\s+select\b`),
		sig(CategorySQLInjection, "sqli-stacked-query", `(?i);\s*(select|insert|update|delete|drop|alter|create|truncate|exec|shutdown)\b`),
		sig(CategorySQLInjection, "sqli-drop", `(?i)\bdrop\s+(table|database|schema|view)\b`),
		sig(CategorySQLInjection, "sqli-statement", `(?i)\b(select\s+\*\s+from|insert\s+into|update\s+\w+\s+set|delete\s+from)\b`),
		sig(CategorySQLInjection, "sqli-exec", `(?i)\b(exec|execute)\s*(\(|xp_|sp_)`),
		sig(CategorySQLInjection, "sqli-comment", `(--|/\*|\*/)`),
	}
}

// DefaultXSSSignatures returns the built-in cross-site scripting rules.
func DefaultXSSSignatures() []Signature {
	return []Signature{
		sig(CategoryXSS, "xss-script-tag", `(?i)<\s*/?\s*script\b`),
		sig(CategoryXSS, "xss-javascript-uri", `(?i)javascript\s*:`),
		sig(CategoryXSS, "xss-event-handler", `(?i)\bon(load|error|click|dblclick|mouse\w+|focus|blur|key\w+|submit|change|input|abort|toggle|animation\w+|pointer\w+|wheel|drag\w*|drop|copy|paste|resize|scroll)\s*=`),
		sig(CategoryXSS, "xss-embedded-object", `(?i)<\s*(iframe|object|embed|applet)\b`),
		sig(CategoryXSS, "xss-data-html", `(?i)data\s*:\s*text/html`),
	}
}
