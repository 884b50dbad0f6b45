// Package prompts renders task prompts from text/template files.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	lru "github.com/hashicorp/golang-lru/v2"

	"conductor/internal/domain/ports"
	jsonx "conductor/internal/shared/json"
)

//go:embed builtin/*.tmpl
var builtinFS embed.FS

const (
	templateExt      = ".tmpl"
	defaultCacheSize = 128

	// EscalationTemplate renders tasks created by escalation.
	EscalationTemplate = "escalation"
	// DefaultTemplate renders tasks that name no template.
	DefaultTemplate = "default"
)

// Renderer looks templates up as <dir>/<id>[.<variant>].tmpl, falling back to
// the built-in set. Parsed templates are cached by resolved name.
type Renderer struct {
	dir   string
	cache *lru.Cache[string, *template.Template]
}

// NewRenderer creates a renderer rooted at dir. An empty dir serves only the
// built-in templates.
func NewRenderer(dir string, cacheSize int) (*Renderer, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *template.Template](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create template cache: %w", err)
	}
	return &Renderer{dir: dir, cache: cache}, nil
}

// Render executes the template for templateID, preferring the variant-specific
// file when pc.Variant is set.
func (r *Renderer) Render(templateID string, pc ports.PromptContext) (string, error) {
	id := strings.TrimSpace(templateID)
	if id == "" {
		id = DefaultTemplate
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid template id %q", templateID)
	}

	names := []string{id}
	if v := strings.TrimSpace(pc.Variant); v != "" && !strings.ContainsAny(v, `/\`) {
		names = []string{id + "." + v, id}
	}

	for _, name := range names {
		tmpl, err := r.lookup(name)
		if errors.Is(err, ports.ErrTemplateNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, pc); err != nil {
			return "", fmt.Errorf("render template %s: %w", name, err)
		}
		return strings.TrimSpace(buf.String()), nil
	}
	return "", fmt.Errorf("%w: %s", ports.ErrTemplateNotFound, id)
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	if tmpl, ok := r.cache.Get(name); ok {
		return tmpl, nil
	}
	src, err := r.load(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	r.cache.Add(name, tmpl)
	return tmpl, nil
}

func (r *Renderer) load(name string) (string, error) {
	if r.dir != "" {
		data, err := os.ReadFile(filepath.Join(r.dir, name+templateExt))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read template %s: %w", name, err)
		}
	}
	data, err := builtinFS.ReadFile("builtin/" + name + templateExt)
	if err != nil {
		return "", ports.ErrTemplateNotFound
	}
	return string(data), nil
}

// Purge drops every cached template so edited files are re-read.
func (r *Renderer) Purge() {
	r.cache.Purge()
}

var funcs = template.FuncMap{
	"json": func(v any) string {
		data, err := jsonx.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	},
	"add":   func(a, b int) int { return a + b },
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
}
