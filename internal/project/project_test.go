package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const manifest = `
name: asteroids
world: Space
classpath: [lib]
units:
  - name: Mover
    source: src/mover.lua
  - name: Rocket
    source: src/rocket.lua
    depends: [Mover]
    association: RocketTest
  - name: RocketTest
    source: test/rocket_test.lua
    depends: [Rocket]
  - name: Space
    source: src/space.lua
    output: build/space.lua
    depends: [Rocket, Mover, Rocket]
`

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "project.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeManifest(t, manifest)
	p, err := Load(dir, "project.yaml", "out")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "asteroids" || p.World != "Space" {
		t.Errorf("name/world = %q/%q", p.Name, p.World)
	}

	var names []string
	for _, u := range p.Graph.Units() {
		names = append(names, u.Name)
	}
	if diff := cmp.Diff([]string{"Mover", "Rocket", "RocketTest", "Space"}, names); diff != "" {
		t.Errorf("unit order (-want +got):\n%s", diff)
	}

	space, _ := p.Graph.Unit("Space")
	var deps []string
	for _, d := range space.DependsOn() {
		deps = append(deps, d.Name)
	}
	if diff := cmp.Diff([]string{"Rocket", "Mover"}, deps); diff != "" {
		t.Errorf("Space deps (-want +got):\n%s", diff)
	}
	if space.Output != filepath.Join(dir, "build", "space.lua") {
		t.Errorf("explicit output = %s", space.Output)
	}

	rocket, _ := p.Graph.Unit("Rocket")
	if rocket.Output != filepath.Join(dir, "out", "Rocket.lua") {
		t.Errorf("default output = %s", rocket.Output)
	}
	if rocket.Association == nil || rocket.Association.Name != "RocketTest" {
		t.Errorf("association = %v", rocket.Association)
	}
	want := []string{filepath.Join(dir, "out"), filepath.Join(dir, "lib")}
	if diff := cmp.Diff(want, p.ClassPath()); diff != "" {
		t.Errorf("class path (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"duplicate", "units: [{name: A, source: a.lua}, {name: A, source: b.lua}]", "duplicate unit"},
		{"unknown dep", "units: [{name: A, source: a.lua, depends: [B]}]", "unknown unit \"B\""},
		{"unknown association", "units: [{name: A, source: a.lua, association: T}]", "unknown unit \"T\""},
		{"missing source", "units: [{name: A}]", "needs name and source"},
		{"unknown world", "world: W\nunits: [{name: A, source: a.lua}]", "world \"W\""},
		{"bad yaml", "units: [", "parse manifest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeManifest(t, tt.body)
			_, err := Load(dir, "project.yaml", "out")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
