// Package project loads project files and watches the files they include.
package project

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type IncludeType string

const (
	UX     IncludeType = "UX"
	Bundle IncludeType = "Bundle"
	FuseJS IncludeType = "FuseJS"
	// SourceFile includes are neither markup nor assets; the preview ignores them.
	SourceFile IncludeType = "Source"
)

const DefaultBuildDirectory = "build"

// Project is a parsed project file. JSON project files are valid YAML and
// load unchanged.
type Project struct {
	Path           string   `yaml:"-"`
	Name           string   `yaml:"Name"`
	Includes       []string `yaml:"Includes"`
	Excludes       []string `yaml:"Excludes"`
	BuildDirectory string   `yaml:"BuildDirectory"`
}

type File struct {
	Path string
	Type IncludeType
}

func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

func Parse(path string, data []byte) (*Project, error) {
	p := &Project{Path: path}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, errors.Wrapf(err, "project %s", path)
		}
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(p.Includes) == 0 {
		p.Includes = []string{"*"}
	}
	return p, nil
}

func (p *Project) RootDirectory() string {
	return filepath.Dir(p.Path)
}

func (p *Project) BuildOutputDirectory() string {
	if p.BuildDirectory == "" {
		return filepath.Join(p.RootDirectory(), DefaultBuildDirectory)
	}
	if filepath.IsAbs(p.BuildDirectory) {
		return p.BuildDirectory
	}
	return filepath.Join(p.RootDirectory(), p.BuildDirectory)
}

type include struct {
	pattern string
	typ     IncludeType
}

func parseInclude(s string) include {
	inc := include{pattern: filepath.ToSlash(s)}
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		switch t := IncludeType(s[i+1:]); t {
		case UX, Bundle, FuseJS, SourceFile:
			inc.pattern, inc.typ = filepath.ToSlash(s[:i]), t
		}
	}
	return inc
}

func typeByExtension(path string) IncludeType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ux":
		return UX
	case ".uno", ".unoproj":
		return SourceFile
	}
	return ""
}

// Files lists every included file with an absolute path, sorted by path.
// Files an untyped pattern matches are typed by extension; other files
// need an explicit type suffix such as "Assets/*.png:Bundle".
func (p *Project) Files() ([]File, error) {
	root := p.RootDirectory()
	build := p.BuildOutputDirectory()
	incs := make([]include, len(p.Includes))
	for i, s := range p.Includes {
		incs[i] = parseInclude(s)
	}

	found := map[string]IncludeType{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), ".") || path == build) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, ex := range p.Excludes {
			if Match(filepath.ToSlash(ex), rel) {
				return nil
			}
		}
		for _, inc := range incs {
			if !Match(inc.pattern, rel) {
				continue
			}
			typ := inc.typ
			if typ == "" {
				typ = typeByExtension(rel)
			}
			if typ != "" {
				found[path] = typ
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list files of %s", p.Path)
	}

	files := make([]File, 0, len(found))
	for path, typ := range found {
		files = append(files, File{Path: path, Type: typ})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (p *Project) filesOf(typ IncludeType) ([]string, error) {
	files, err := p.Files()
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, f := range files {
		if f.Type == typ {
			paths = append(paths, f.Path)
		}
	}
	return paths, nil
}

func (p *Project) UxFiles() ([]string, error) {
	return p.filesOf(UX)
}

func (p *Project) BundleFiles() ([]string, error) {
	return p.filesOf(Bundle)
}

func (p *Project) FuseJsFiles() ([]string, error) {
	return p.filesOf(FuseJS)
}
