package repomd

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/quay/zlog"

	"github.com/resf/apollo"
)

// Package is one rpm record from a primary.xml.
type Package struct {
	Name         string
	Epoch        string
	Version      string
	Release      string
	Arch         string
	ChecksumType string
	Checksum     string
	// SourceRPM is the filename from format/sourcerpm, empty for source rpms
	// themselves.
	SourceRPM string
}

// NEVRA formats the package's identity the way advisories spell it.
func (p *Package) NEVRA() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteByte('-')
	if p.Epoch != "" {
		b.WriteString(p.Epoch)
		b.WriteByte(':')
	}
	b.WriteString(p.Version)
	b.WriteByte('-')
	b.WriteString(p.Release)
	b.WriteByte('.')
	b.WriteString(p.Arch)
	return b.String()
}

// PrimaryPackage mirrors the <package> element. The sourcerpm child sits in
// the rpm namespace; matching on the local name is enough here.
type primaryPackage struct {
	Type    string `xml:"type,attr"`
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Checksum struct {
		Type string `xml:"type,attr"`
		Sum  string `xml:",chardata"`
	} `xml:"checksum"`
	Format struct {
		SourceRPM string `xml:"sourcerpm"`
	} `xml:"format"`
}

// ParsePrimary decodes package elements one at a time so the full document is
// never held in memory.
func parsePrimary(ctx context.Context, r io.Reader) ([]Package, error) {
	const op = "repomd.parsePrimary"
	var out []Package
	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		switch {
		case err == io.EOF:
			zlog.Debug(ctx).
				Int("count", len(out)).
				Msg("parsed primary packages")
			return out, nil
		case err != nil:
			return nil, &apollo.Error{Op: op, Kind: apollo.ErrDecode, Message: "parsing primary xml", Inner: err}
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "package" {
			continue
		}
		var p primaryPackage
		if err := d.DecodeElement(&p, &se); err != nil {
			return nil, &apollo.Error{Op: op, Kind: apollo.ErrDecode, Message: "parsing package element", Inner: err}
		}
		if p.Type != "" && p.Type != "rpm" {
			continue
		}
		if p.Name == "" {
			return nil, &apollo.Error{Op: op, Kind: apollo.ErrSchema, Message: "package element missing name"}
		}
		out = append(out, Package{
			Name:         p.Name,
			Epoch:        p.Version.Epoch,
			Version:      p.Version.Ver,
			Release:      p.Version.Rel,
			Arch:         p.Arch,
			ChecksumType: p.Checksum.Type,
			Checksum:     p.Checksum.Sum,
			SourceRPM:    p.Format.SourceRPM,
		})
	}
}

// SourceName returns the package name of a source rpm filename, e.g.
// "bash-5.1.8-6.el9.src.rpm" yields "bash". The second return is false when
// the filename doesn't look like an rpm.
func SourceName(srpm string) (string, bool) {
	s, ok := strings.CutSuffix(srpm, ".rpm")
	if !ok {
		return "", false
	}
	// name-version-release(.arch)
	i := strings.LastIndexByte(s, '.')
	if i != -1 && s[i+1:] == "src" {
		s = s[:i]
	}
	i = strings.LastIndexByte(s, '-')
	if i == -1 {
		return "", false
	}
	i = strings.LastIndexByte(s[:i], '-')
	if i == -1 {
		return "", false
	}
	return s[:i], true
}
