package report

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"text/template"
)

//go:embed pool.tmpl
var defaultTemplate string

// Renderer turns a Pool into the plaintext report.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the report template. An empty path selects the
// built-in template; otherwise the file at path replaces it.
// Params: path optional template override.
// Returns: renderer or template read/parse error.
func NewRenderer(path string) (*Renderer, error) {
	text := defaultTemplate
	if path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read report template: %w", err)
		}
		text = string(payload)
	}

	tmpl, err := template.New("pool").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the report for p to w.
// Params: w destination; p assembled pool statistics.
// Returns: template execution error, nil on success.
func (r *Renderer) Render(w io.Writer, p Pool) error {
	if err := r.tmpl.Execute(w, p); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
