package matcher

import (
	"github.com/resf/apollo"
	"github.com/resf/apollo/internal/nevra"
	"github.com/resf/apollo/repomd"
)

// RepoIndex is one repository's packages indexed for matching.
type repoIndex struct {
	id         int64
	repoName   string
	production bool
	// byCleaned groups packages by their cleaned NEVRA.
	byCleaned map[string][]*repomd.Package
	// byName lists the cleaned NEVRAs present under a package name, for the
	// name-prefix fallback.
	byName map[string][]string
	// modules maps a NEVRA to the module build that shipped it.
	modules map[string]repomd.Module
}

func buildIndex(cfg *nevra.Config, r *apollo.Repomd, md *repomd.Metadata) *repoIndex {
	idx := &repoIndex{
		id:         r.ID,
		repoName:   r.RepoName,
		production: r.Production,
		byCleaned:  make(map[string][]*repomd.Package, len(md.Packages)),
		byName:     make(map[string][]string),
		modules:    md.Modules,
	}
	for i := range md.Packages {
		p := &md.Packages[i]
		cl := cfg.Clean(p.NEVRA())
		if _, ok := idx.byCleaned[cl]; !ok {
			idx.byName[p.Name] = append(idx.byName[p.Name], cl)
		}
		idx.byCleaned[cl] = append(idx.byCleaned[cl], p)
	}
	return idx
}

// AdvisoryPackage annotates an accepted repository package with its mirror
// and repository provenance.
func (idx *repoIndex) advisoryPackage(cfg *nevra.Config, rp *repomd.Package, mirror *apollo.Mirror) apollo.AdvisoryPackage {
	ns := rp.NEVRA()
	out := apollo.AdvisoryPackage{
		MirrorID:     mirror.ID,
		ProductID:    mirror.ProductID,
		NEVRA:        ns,
		Checksum:     rp.Checksum,
		ChecksumType: rp.ChecksumType,
		RepoName:     idx.repoName,
	}
	if mod, ok := idx.modules[ns]; ok {
		out.ModuleName = mod.Name
		out.ModuleStream = mod.Stream
		out.ModuleVersion = mod.Version
		out.ModuleContext = mod.Context
	}
	switch {
	case rp.Arch == "src":
		out.PackageName = rp.Name
	case rp.SourceRPM != "":
		if sn, err := cfg.Parse(rp.SourceRPM); err == nil {
			out.PackageName = sn.Name
		}
	}
	return out
}
