// Package template renders text templates over step input.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"
)

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)

		return string(data), err
	},
	"env":   os.Getenv,
	"now":   func() string { return time.Now().UTC().Format(time.RFC3339) },
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// Parse checks a template for syntax errors.
func Parse(input string) (*template.Template, error) {
	return template.New("step").Funcs(funcs).Option("missingkey=zero").Parse(input)
}

// Render executes input as a text template with data as dot.
func Render(input string, data any) (string, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	tmpl, err := Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}
