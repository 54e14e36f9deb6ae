package charts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lox/commutewatch/internal/models"
)

// Dir is the directory holding one rendered PNG per route.
type Dir struct {
	dir string
}

func NewDir(dir string) *Dir {
	return &Dir{dir: dir}
}

func (d *Dir) Root() string {
	return d.dir
}

// Path returns the chart file for a route. The name depends only on the
// route's identity.
func (d *Dir) Path(route models.Route) string {
	return filepath.Join(d.dir, route.Slug()+".png")
}

// Write replaces the route's chart. Data goes to a temp file in the same
// directory first so a reader never sees a partial image.
func (d *Dir) Write(route models.Route, data []byte) (string, error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("create chart dir: %w", err)
	}
	path := d.Path(route)
	tmp, err := os.CreateTemp(d.dir, "."+route.Slug()+"-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp chart: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write chart: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close chart: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("replace chart: %w", err)
	}
	return path, nil
}

// Get returns the route's current chart, if any.
func (d *Dir) Get(route models.Route) ([]byte, bool) {
	data, err := os.ReadFile(d.Path(route))
	if err != nil {
		return nil, false
	}
	return data, true
}

// List returns the file names of all rendered charts, sorted.
func (d *Dir) List() []string {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".png" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
