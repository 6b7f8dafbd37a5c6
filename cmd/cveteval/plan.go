package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"

	"github.com/iota-uz/cveteval/modules/evaluation/importers"
)

// importPlan is the document read by import-all, in YAML or TOML (by
// extension). Relative file paths are resolved against the plan's directory.
type importPlan struct {
	History   string            `yaml:"history" toml:"history"`
	Comments  string            `yaml:"comments" toml:"comments"`
	Reuse     bool              `yaml:"reuse" toml:"reuse"`
	Cleanup   bool              `yaml:"cleanup" toml:"cleanup"`
	Delimiter string            `yaml:"delimiter" toml:"delimiter"`
	Encoding  string            `yaml:"encoding" toml:"encoding"`
	Files     map[string]string `yaml:"files" toml:"files"`

	files map[importers.Kind]string
}

func loadPlan(path string) (*importPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read plan")
	}
	var p importPlan
	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		unmarshal = toml.Unmarshal
	}
	if err := unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "parse plan %s", path)
	}
	if len(p.Files) == 0 {
		return nil, errors.Errorf("plan %s lists no files", path)
	}
	switch p.Delimiter {
	case "", ",", ";":
	default:
		return nil, errors.Errorf("plan delimiter %q (expected , or ;)", p.Delimiter)
	}
	base := filepath.Dir(path)
	p.files = make(map[importers.Kind]string, len(p.Files))
	for name, file := range p.Files {
		kind, err := importers.ParseKind(name)
		if err != nil {
			return nil, err
		}
		file = strings.TrimSpace(file)
		if file == "" {
			return nil, errors.Errorf("plan file for %s is empty", kind)
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(base, file)
		}
		p.files[kind] = file
	}
	return &p, nil
}

// Kinds returns the planned kinds in dependency order.
func (p *importPlan) Kinds() []importers.Kind {
	kinds := make([]importers.Kind, 0, len(p.files))
	for k := range p.files {
		kinds = append(kinds, k)
	}
	return importers.Order(kinds)
}

func (p *importPlan) File(kind importers.Kind) string {
	return p.files[kind]
}
