package reifier

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lorents/fuse-studio/project"
	"github.com/lorents/fuse-studio/typeinfo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TypesFile is the optional type table extension next to a project file.
const TypesFile = "types.yaml"

// BuildProject are the arguments of a build.
type BuildProject struct {
	ID             uuid.UUID
	ProjectPath    string
	Defines        []string
	BuildLibraries bool
	Verbose        bool
	OutputDir      string
}

// ProjectBuild is what reify needs from a successful build.
type ProjectBuild struct {
	ProjectPath string
	Assembly    string
	OutputDir   string
	Types       *typeinfo.Table
}

// Builder prepares a project for reification. Log lines go to log.
type Builder interface {
	TryBuild(ctx context.Context, args BuildProject, log func(string)) (*ProjectBuild, error)
}

type manifest struct {
	Name    string    `yaml:"name"`
	Project string    `yaml:"project"`
	Defines []string  `yaml:"defines,omitempty"`
	UxFiles []string  `yaml:"ux_files"`
	Types   string    `yaml:"types"`
	Built   time.Time `yaml:"built"`
	BuildID string    `yaml:"build_id"`
	Verbose bool      `yaml:"verbose,omitempty"`
	Bundles []string  `yaml:"bundle_files,omitempty"`
	Scripts []string  `yaml:"fusejs_files,omitempty"`
}

// LocalBuilder checks the project and its type table and writes a build
// manifest. The manifest path stands in for the built assembly.
type LocalBuilder struct{}

func (LocalBuilder) TryBuild(ctx context.Context, args BuildProject, log func(string)) (*ProjectBuild, error) {
	proj, err := project.Load(args.ProjectPath)
	if err != nil {
		return nil, errors.Wrap(err, "load project")
	}
	log("Building " + proj.Name)

	types := typeinfo.Builtin()
	typesPath := filepath.Join(proj.RootDirectory(), TypesFile)
	if _, err := os.Stat(typesPath); err == nil {
		if types, err = typeinfo.LoadFile(typesPath); err != nil {
			return nil, errors.Wrap(err, "load types")
		}
		log("Using types from " + typesPath)
	} else {
		typesPath = "builtin"
	}

	files, err := proj.Files()
	if err != nil {
		return nil, err
	}
	m := manifest{
		Name:    proj.Name,
		Project: args.ProjectPath,
		Defines: args.Defines,
		Types:   typesPath,
		Built:   time.Now().UTC(),
		BuildID: args.ID.String(),
		Verbose: args.Verbose,
	}
	for _, f := range files {
		switch f.Type {
		case project.UX:
			m.UxFiles = append(m.UxFiles, f.Path)
		case project.Bundle:
			m.Bundles = append(m.Bundles, f.Path)
		case project.FuseJS:
			m.Scripts = append(m.Scripts, f.Path)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputDir := args.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(proj.BuildOutputDirectory(), "preview")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	assembly := filepath.Join(outputDir, proj.Name+".preview.yaml")
	if err := os.WriteFile(assembly, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "write manifest")
	}
	log("Built " + assembly)

	return &ProjectBuild{
		ProjectPath: args.ProjectPath,
		Assembly:    assembly,
		OutputDir:   outputDir,
		Types:       types,
	}, nil
}
