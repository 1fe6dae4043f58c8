package workflow

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var embedded embed.FS

// maxTemplateSize bounds a single template file.
const maxTemplateSize = 256 * 1024

// DefaultTemplates returns the templates shipped with the binary.
func DefaultTemplates() ([]Template, error) {
	return LoadFS(embedded, "templates")
}

// LoadDir parses every *.yaml and *.yml file in dir. A missing directory
// yields no templates.
func LoadDir(dir string) ([]Template, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS parses every template file directly under root in fsys, in
// lexical order.
func LoadFS(fsys fs.FS, root string) ([]Template, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("reading template directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]Template, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, name)))
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", name, err)
		}
		t, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Parse decodes one YAML template. Unknown keys are rejected.
func Parse(data []byte) (Template, error) {
	if len(data) > maxTemplateSize {
		return Template{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidTemplate, maxTemplateSize)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Template
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return Template{}, fmt.Errorf("%w: empty document", ErrInvalidTemplate)
		}
		return Template{}, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	for i := range t.Phases {
		if t.Phases[i].Input == nil {
			t.Phases[i].Input = map[string]any{}
		}
	}
	return t, nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
