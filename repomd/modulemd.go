package repomd

import (
	"context"
	"errors"
	"io"

	"github.com/quay/zlog"
	"gopkg.in/yaml.v3"

	"github.com/resf/apollo"
)

// Module is the (name, stream, version, context) identity of one modulemd
// build, plus its arch.
type Module struct {
	Name    string
	Stream  string
	Version string
	Context string
	Arch    string
}

// YamlString tolerates unquoted scalars: module streams and versions are
// strings by schema but show up as bare numbers in the wild.
type yamlString string

func (s *yamlString) UnmarshalYAML(n *yaml.Node) error {
	*s = yamlString(n.Value)
	return nil
}

// ModulemdDoc is the subset of a modulemd document the matcher consumes.
type modulemdDoc struct {
	Document string `yaml:"document"`
	Data     struct {
		Name      string     `yaml:"name"`
		Stream    yamlString `yaml:"stream"`
		Version   yamlString `yaml:"version"`
		Context   string     `yaml:"context"`
		Arch      string     `yaml:"arch"`
		Artifacts struct {
			Rpms []string `yaml:"rpms"`
		} `yaml:"artifacts"`
	} `yaml:"data"`
}

// ParseModules reads a multi-document modulemd stream and maps each artifact
// NEVRA to its module. Documents other than "modulemd" are skipped.
func parseModules(ctx context.Context, r io.Reader) (map[string]Module, error) {
	const op = "repomd.parseModules"
	out := make(map[string]Module)
	d := yaml.NewDecoder(r)
	docs := 0
	for {
		var doc modulemdDoc
		err := d.Decode(&doc)
		switch {
		case errors.Is(err, io.EOF):
			zlog.Debug(ctx).
				Int("documents", docs).
				Int("artifacts", len(out)).
				Msg("parsed modulemd stream")
			return out, nil
		case err != nil:
			return nil, &apollo.Error{Op: op, Kind: apollo.ErrDecode, Message: "parsing modulemd yaml", Inner: err}
		}
		if doc.Document != "modulemd" {
			continue
		}
		docs++
		m := Module{
			Name:    doc.Data.Name,
			Stream:  string(doc.Data.Stream),
			Version: string(doc.Data.Version),
			Context: doc.Data.Context,
			Arch:    doc.Data.Arch,
		}
		for _, rpm := range doc.Data.Artifacts.Rpms {
			out[rpm] = m
		}
	}
}
