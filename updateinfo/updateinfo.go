// Package updateinfo assembles the DNF/YUM updateinfo.xml view of one
// (product, major version, arch, repository) slice from stored advisories.
package updateinfo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
	"github.com/resf/apollo/internal/nevra"
)

// ProductSlugs is the closed slug → product-name map. Callers cannot inject
// arbitrary product names through a URL.
var productSlugs = map[string]string{
	"rocky-linux":           "Rocky Linux",
	"rocky-linux-sig-cloud": "Rocky Linux SIG Cloud",
}

// ProductName resolves a case-insensitive product slug.
func ProductName(slug string) (string, bool) {
	name, ok := productSlugs[strings.ToLower(slug)]
	return name, ok
}

// Request selects one updateinfo slice.
type Request struct {
	ProductSlug  string
	MajorVersion int
	// MinorVersion narrows the slice when non-nil.
	MinorVersion *int
	RepoName     string
	Arch         string
}

// Generator renders stored advisories as updateinfo documents.
type Generator struct {
	Store datastore.UpdateinfoStore
	// Config supplies the arch policy; nil means [nevra.Default].
	Config *nevra.Config
	// From is the updates' issuer address.
	From string
	// Rights is the copyright line on each update.
	Rights string
	// SelfBase prefixes the self-reference URL for each advisory.
	SelfBase string
}

const (
	defaultFrom     = "releng@rockylinux.org"
	defaultRights   = "Copyright (C) 2026 Rocky Enterprise Software Foundation"
	defaultSelfBase = "https://errata.rockylinux.org"
	mitreBase       = "https://cve.mitre.org/cgi-bin/cvename.cgi?name="
)

func (g *Generator) cfg() *nevra.Config {
	if g.Config != nil {
		return g.Config
	}
	return nevra.Default()
}

// Generate renders the updateinfo document for one slice.
//
// An unknown slug or product reports [apollo.ErrProductUnknown]; a slice
// with no advisories reports [apollo.ErrSliceEmpty].
func (g *Generator) Generate(ctx context.Context, req *Request) (*apollo.Updateinfo, error) {
	const op = "updateinfo/Generator.Generate"
	ctx = zlog.ContextWithValues(ctx, "component", op,
		"slug", req.ProductSlug, "repo", req.RepoName, "arch", req.Arch)

	name, ok := ProductName(req.ProductSlug)
	if !ok {
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrProductUnknown, Message: fmt.Sprintf("unknown product slug %q", req.ProductSlug)}
	}
	product, err := g.Store.GetProductByName(ctx, name)
	if err != nil {
		return nil, err
	}

	slice := datastore.Slice{
		ProductID:    product.ID,
		MajorVersion: req.MajorVersion,
		MinorVersion: req.MinorVersion,
		Arch:         req.Arch,
		RepoName:     req.RepoName,
	}
	advisories, err := g.Store.AdvisoriesForSlice(ctx, &slice)
	if err != nil {
		return nil, err
	}

	release := fmt.Sprintf("%s %d", product.Name, req.MajorVersion)
	if req.MinorVersion != nil {
		release = fmt.Sprintf("%s.%d", release, *req.MinorVersion)
	}
	defaultShort := slugify(fmt.Sprintf("%s-%s-rpms", product.Name, req.RepoName))

	doc := apollo.Updateinfo{}
	for i := range advisories {
		a := &advisories[i]
		cols := g.collections(ctx, a, product, req, defaultShort)
		if len(cols) == 0 {
			// An update with nothing installable is not emitted.
			continue
		}
		doc.Updates = append(doc.Updates, g.update(a, release, cols))
	}
	if len(doc.Updates) == 0 {
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrSliceEmpty, Message: "no advisories in slice"}
	}
	return &doc, nil
}

// Update renders one advisory's <update> element.
func (g *Generator) update(a *apollo.Advisory, release string, cols []apollo.UpdateCollection) apollo.Update {
	var utype string
	switch a.Kind {
	case apollo.KindSecurity:
		utype = "security"
	case apollo.KindBugFix:
		utype = "bugfix"
	case apollo.KindEnhancement:
		utype = "enhancement"
	default:
		utype = "bugfix"
	}

	issued := a.CreatedAt
	if a.PublishedAt != nil {
		issued = *a.PublishedAt
	}

	from := g.From
	if from == "" {
		from = defaultFrom
	}
	rights := g.Rights
	if rights == "" {
		rights = defaultRights
	}
	selfBase := g.SelfBase
	if selfBase == "" {
		selfBase = defaultSelfBase
	}

	u := apollo.Update{
		From:        from,
		Status:      "final",
		Type:        utype,
		Version:     "2",
		ID:          a.Name,
		Title:       a.Synopsis,
		Issued:      apollo.UpdateDate{Date: apollo.Date(issued)},
		Updated:     apollo.UpdateDate{Date: apollo.Date(a.UpdatedAt)},
		Rights:      rights,
		Release:     release,
		PushCount:   1,
		Severity:    a.Severity.String(),
		Summary:     a.Topic,
		Description: a.Description,
		Solution:    "",
		Collections: cols,
	}
	for i := range a.CVEs {
		c := &a.CVEs[i]
		u.References = append(u.References, apollo.UpdateReference{
			Href:  mitreBase + c.CVE,
			ID:    c.CVE,
			Type:  "cve",
			Title: c.CVE,
		})
	}
	for i := range a.Fixes {
		f := &a.Fixes[i]
		u.References = append(u.References, apollo.UpdateReference{
			Href:  f.Source,
			ID:    f.TicketID,
			Type:  "bugzilla",
			Title: f.Description,
		})
	}
	u.References = append(u.References, apollo.UpdateReference{
		Href:  selfBase + "/" + a.Name,
		ID:    a.Name,
		Type:  "self",
		Title: a.Name,
	})
	return u
}

// Collections partitions an advisory's packages: one default collection for
// non-modular rpms and one collection per module name, each carrying its
// module element. Mixing the two confuses DNF's module-stream solver, so
// the default collection is suppressed whenever a modular package is
// present.
func (g *Generator) collections(ctx context.Context, a *apollo.Advisory, product *apollo.SupportedProduct, req *Request, defaultShort string) []apollo.UpdateCollection {
	cfg := g.cfg()
	arches := cfg.ArchesFor(req.Arch)

	type bucket struct {
		module   *apollo.UpdateModule
		packages []apollo.UpdatePackage
	}
	buckets := make(map[string]*bucket)
	var order []string

	for i := range a.Packages {
		p := &a.Packages[i]
		if p.ProductID != product.ID {
			// Cross-product row: never serve it, but say so.
			zlog.Warn(ctx).
				Str("advisory", a.Name).
				Str("nevra", p.NEVRA).
				Int64("package_product", p.ProductID).
				Int64("requested_product", product.ID).
				Msg("package crosses products, skipping")
			continue
		}
		n, err := cfg.Parse(p.NEVRA)
		if err != nil {
			zlog.Warn(ctx).Err(err).Str("nevra", p.NEVRA).Msg("unparseable stored nevra, skipping")
			continue
		}
		if n.Arch == "src" {
			continue
		}
		if _, ok := arches[n.Arch]; !ok {
			continue
		}
		if p.PackageName == "" {
			continue
		}
		if strings.HasSuffix(n.Name, "-debuginfo") ||
			strings.HasSuffix(n.Name, "-debugsource") ||
			strings.HasSuffix(n.Name, "-debuginfo-common") {
			continue
		}

		short := defaultShort
		var mod *apollo.UpdateModule
		if p.Modular() {
			short = defaultShort + "__" + p.ModuleName
			mod = &apollo.UpdateModule{
				Name:    p.ModuleName,
				Stream:  p.ModuleStream,
				Version: p.ModuleVersion,
				Context: p.ModuleContext,
				Arch:    req.Arch,
			}
		}
		b := buckets[short]
		if b == nil {
			b = &bucket{module: mod}
			buckets[short] = b
			order = append(order, short)
		}
		b.packages = append(b.packages, apollo.UpdatePackage{
			Name:     n.Name,
			Version:  n.Version,
			Release:  n.Release,
			Epoch:    fmt.Sprint(n.Epoch),
			Arch:     n.Arch,
			Src:      fmt.Sprintf("%s-%s-%s.src.rpm", p.PackageName, n.Version, n.Release),
			Filename: fmt.Sprintf("%s-%s-%s.%s.rpm", n.Name, n.Version, n.Release, n.Arch),
			Sum: apollo.UpdateSum{
				Type:  p.ChecksumType,
				Value: p.Checksum,
			},
		})
	}

	modular := false
	for _, s := range order {
		if buckets[s].module != nil {
			modular = true
			break
		}
	}

	var out []apollo.UpdateCollection
	sort.Strings(order)
	for _, s := range order {
		b := buckets[s]
		if len(b.packages) == 0 {
			continue
		}
		if modular && b.module == nil {
			continue
		}
		out = append(out, apollo.UpdateCollection{
			Short:    s,
			Name:     s,
			Module:   b.module,
			Packages: b.packages,
		})
	}
	return out
}

// Slugify lowercases and joins alphanumeric runs with dashes.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}
