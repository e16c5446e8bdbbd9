// internal/template/renderer.go
package template

import (
	"regexp"

	"github.com/ecellhub/email-engine/internal/model"
)

// tokenPattern is the full placeholder grammar: a key wrapped in
// double braces, e.g. {{firstName}}. Substitution is purely textual;
// nothing is ever evaluated.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Rendered is the final deliverable content for one message.
type Rendered struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

// Substitute replaces every {{key}} token in content with its value
// from data. Unknown tokens are left as literal text: an unresolved
// placeholder is a content-authoring concern surfaced at preview time,
// never a dispatch failure.
func Substitute(content string, data map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(content, func(token string) string {
		key := tokenPattern.FindStringSubmatch(token)[1]
		if value, ok := data[key]; ok {
			return value
		}
		return token
	})
}

// RenderContent applies one data mapping to subject, HTML and text
// content. The same inputs always produce the same output regardless
// of map iteration order.
func RenderContent(subject, html, text string, data map[string]string) Rendered {
	return Rendered{
		Subject: Substitute(subject, data),
		HTML:    Substitute(html, data),
		Text:    Substitute(text, data),
	}
}

// MergeData builds the substitution mapping for one recipient: declared
// defaults first, then each layer in order, later layers winning. The
// recipient's own data is expected to be the last layer.
func MergeData(defaults []model.Placeholder, layers ...map[string]string) map[string]string {
	data := make(map[string]string)
	for _, p := range defaults {
		if p.DefaultValue != "" {
			data[p.Key] = p.DefaultValue
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			data[k] = v
		}
	}
	return data
}

// ExtractPlaceholders returns the distinct placeholder keys found in
// the given content parts, in first-occurrence order scanning the parts
// in the order given (subject before body, per the template contract).
func ExtractPlaceholders(parts ...string) []string {
	seen := make(map[string]bool)
	keys := []string{}
	for _, part := range parts {
		for _, match := range tokenPattern.FindAllStringSubmatch(part, -1) {
			key := match[1]
			if seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
