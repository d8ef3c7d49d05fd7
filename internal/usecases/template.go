package usecases

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// applyTemplateVars substitutes {{ var }} placeholders recursively through
// strings, arrays, and objects. Lookup is case-insensitive; vars must be
// keyed lowercase. Unknown placeholders are left as-is.
func applyTemplateVars(value any, vars map[string]string) any {
	switch v := value.(type) {
	case string:
		return templateVarPattern.ReplaceAllStringFunc(v, func(match string) string {
			name := templateVarPattern.FindStringSubmatch(match)[1]
			if resolved, ok := vars[strings.ToLower(name)]; ok {
				return resolved
			}
			return match
		})
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = applyTemplateVars(item, vars)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = applyTemplateVars(item, vars)
		}
		return out
	default:
		return value
	}
}

const defaultConfirmOtpURL = "https://disparador.reidozap.com.br/login.html"

// buildConfirmOtpURL produces the one-click confirmation link with the
// subject and code appended as query parameters.
func buildConfirmOtpURL(base, whatsapp, code string) string {
	if base == "" {
		base = defaultConfirmOtpURL
	}
	u, err := url.Parse(base)
	if err != nil {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%swhatsapp=%s&code=%s", base, sep, url.QueryEscape(whatsapp), url.QueryEscape(code))
	}
	q := u.Query()
	q.Set("whatsapp", whatsapp)
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}
