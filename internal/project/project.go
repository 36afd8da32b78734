// Package project loads a project manifest into a compile graph.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/microworld/stage/internal/compile"
)

// UnitEntry is one unit in project.yaml.
type UnitEntry struct {
	Name        string   `yaml:"name"`
	Source      string   `yaml:"source"`
	Output      string   `yaml:"output"`
	Depends     []string `yaml:"depends"`
	Association string   `yaml:"association"`
}

// Manifest is the decoded project.yaml.
type Manifest struct {
	Name      string      `yaml:"name"`
	World     string      `yaml:"world"`     // world unit installed at start
	ClassPath []string    `yaml:"classpath"` // extra library roots
	Units     []UnitEntry `yaml:"units"`
}

// Project is a loaded manifest with absolute paths.
type Project struct {
	Name      string
	Dir       string
	OutputDir string
	World     string
	Libraries []string
	Graph     *compile.ClassGraph
}

// Load reads the manifest at dir/manifest. Relative paths in it are resolved
// against dir; outputDir is the directory compiled units are written to.
func Load(dir, manifest, outputDir string) (*Project, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("project dir: %w", err)
	}
	path := resolve(dir, manifest)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	p := &Project{
		Name:      m.Name,
		Dir:       dir,
		OutputDir: resolve(dir, outputDir),
		World:     m.World,
	}
	if p.Name == "" {
		p.Name = filepath.Base(dir)
	}
	for _, lib := range m.ClassPath {
		p.Libraries = append(p.Libraries, resolve(dir, lib))
	}
	if p.Graph, err = p.build(m.Units); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if p.World != "" {
		if _, ok := p.Graph.Unit(p.World); !ok {
			return nil, fmt.Errorf("manifest %s: world %q is not a unit", path, p.World)
		}
	}
	return p, nil
}

func (p *Project) build(entries []UnitEntry) (*compile.ClassGraph, error) {
	g := compile.NewClassGraph()
	for _, e := range entries {
		if e.Name == "" || e.Source == "" {
			return nil, fmt.Errorf("unit needs name and source: %+v", e)
		}
		out := e.Output
		if out == "" {
			out = filepath.Join(p.OutputDir, e.Name+".lua")
		} else {
			out = resolve(p.Dir, out)
		}
		if _, err := g.Add(e.Name, resolve(p.Dir, e.Source), out); err != nil {
			return nil, err
		}
	}
	// Edges need every unit present.
	for _, e := range entries {
		for _, dep := range e.Depends {
			if err := g.Depend(e.Name, dep); err != nil {
				return nil, err
			}
		}
		if e.Association != "" {
			if err := g.Associate(e.Name, e.Association); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// ClassPath returns the roots the child loads units from: the output
// directory first, then the libraries.
func (p *Project) ClassPath() []string {
	return append([]string{p.OutputDir}, p.Libraries...)
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
