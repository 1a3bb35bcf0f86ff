// Package nevra implements parsing and normalization of NEVRA strings.
//
// Upstream and downstream rebuilds of the same rpm agree on everything but
// the dist tag and, for modular packages, the module build marker. The
// "cleaned" form produced here removes both so the two sides can be compared
// by string equality.
package nevra

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/resf/apollo"
)

// NEVRA is one parsed Name-Epoch:Version-Release.Arch string.
type NEVRA struct {
	Name    string
	Epoch   int
	Version string
	Release string
	Arch    string
	// DistMajor and DistMinor are taken from the dist tag, or from the module
	// marker's dist info for modular packages. DistMinor is nil when the tag
	// carries no minor version.
	DistMajor int
	DistMinor *int
	// Modular reports a ".module+" build marker in the release.
	Modular bool
	// Raw is the input with any ".rpm" suffix removed, epoch preserved.
	Raw string
	// Cleaned has the epoch, dist tag, and module marker removed, and is
	// prefixed with "module." when the package is modular. Two packages are
	// rebuild-equivalent exactly when their Cleaned forms agree.
	Cleaned string
}

// Config enumerates the strings the parser recognizes.
//
// The zero value uses the defaults below.
type Config struct {
	// DistIDs are release-tag distribution markers, e.g. "el" in ".el9_4".
	DistIDs []string `json:"dist_ids" yaml:"dist_ids"`
	// KnownArches gate the trailing architecture label. There's no way to
	// tell an arch tag from another release segment without just knowing
	// them.
	KnownArches []string `json:"known_arches" yaml:"known_arches"`
	// X86ImpliesI686 additionally admits "i686" packages wherever "x86_64"
	// is requested.
	X86ImpliesI686 bool `json:"x86_implies_i686" yaml:"x86_implies_i686"`

	once   sync.Once
	distRE *regexp.Regexp
	arches map[string]struct{}
}

var (
	defaultDistIDs = []string{"el", "rhel", "sles"}
	defaultArches  = []string{"aarch64", "i686", "noarch", "ppc64le", "riscv64", "s390x", "src", "x86_64"}

	defaultConfig = &Config{X86ImpliesI686: true}

	// ModuleRE matches the module build marker inside a release field, e.g.
	// ".module+el9.6.0+23332+115a3b01". Anything after the context is a
	// rebuild suffix and is left in place.
	moduleRE = regexp.MustCompile(`\.module\+([^+]+)\+(\d+)\+(\w+)`)
	// EpochRE matches the epoch prefix on the version field.
	epochRE = regexp.MustCompile(`-(\d+):`)
	// DistInfoRE decomposes a module marker's dist info, e.g. "el9.6.0".
	distInfoRE = regexp.MustCompile(`^[a-z]+(\d+)(?:\.(\d+))?`)
)

func (c *Config) compile() {
	c.once.Do(func() {
		ids := c.DistIDs
		if len(ids) == 0 {
			ids = defaultDistIDs
		}
		quoted := make([]string, len(ids))
		for i, id := range ids {
			quoted[i] = regexp.QuoteMeta(id)
		}
		c.distRE = regexp.MustCompile(`\.(?:` + strings.Join(quoted, `|`) + `)(\d+)(?:_(\d+))?\b`)

		as := c.KnownArches
		if len(as) == 0 {
			as = defaultArches
		}
		c.arches = make(map[string]struct{}, len(as))
		for _, a := range as {
			c.arches[a] = struct{}{}
		}
	})
}

// Default returns the package-default configuration: dist ids el, rhel, and
// sles, the common RPM architectures, and the x86_64⇒i686 rule on.
func Default() *Config {
	return defaultConfig
}

// Parse parses "s" with the default [Config].
func Parse(s string) (NEVRA, error) {
	return defaultConfig.Parse(s)
}

// Clean cleans "s" with the default [Config].
func Clean(s string) string {
	return defaultConfig.Clean(s)
}

// Parse returns the NEVRA for the provided string, or an error of kind
// [apollo.ErrInvalidNEVRA] if it's malformed.
//
// Missing architecture, missing release, and missing dist major version are
// all malformed.
func (c *Config) Parse(s string) (NEVRA, error) {
	const op = "nevra.Parse"
	c.compile()
	ret := NEVRA{
		Raw: strings.TrimSuffix(s, ".rpm"),
	}
	v := ret.Raw

	i := strings.LastIndexByte(v, '.')
	if i == -1 {
		return NEVRA{}, &apollo.Error{Op: op, Kind: apollo.ErrInvalidNEVRA, Message: fmt.Sprintf("%q: missing architecture", s)}
	}
	if _, ok := c.arches[v[i+1:]]; !ok {
		return NEVRA{}, &apollo.Error{Op: op, Kind: apollo.ErrInvalidNEVRA, Message: fmt.Sprintf("%q: unrecognized architecture %q", s, v[i+1:])}
	}
	ret.Arch = v[i+1:]
	v = v[:i]

	// Name-EV-R needs at least two separators.
	ri := strings.LastIndexByte(v, '-')
	if ri == -1 {
		return NEVRA{}, &apollo.Error{Op: op, Kind: apollo.ErrInvalidNEVRA, Message: fmt.Sprintf("%q: missing separators", s)}
	}
	ret.Release = v[ri+1:]
	vi := strings.LastIndexByte(v[:ri], '-')
	if vi == -1 {
		return NEVRA{}, &apollo.Error{Op: op, Kind: apollo.ErrInvalidNEVRA, Message: fmt.Sprintf("%q: missing separators", s)}
	}
	ret.Name = v[:vi]
	ev := v[vi+1 : ri]
	if ret.Name == "" || ev == "" || ret.Release == "" {
		return NEVRA{}, &apollo.Error{Op: op, Kind: apollo.ErrInvalidNEVRA, Message: fmt.Sprintf("%q: empty field", s)}
	}

	ret.Version = ev
	if e, rest, ok := strings.Cut(ev, ":"); ok {
		n, err := strconv.Atoi(e)
		if err != nil {
			return NEVRA{}, &apollo.Error{Op: op, Kind: apollo.ErrInvalidNEVRA, Message: fmt.Sprintf("%q: bad epoch %q", s, e), Inner: err}
		}
		ret.Epoch = n
		ret.Version = rest
	}

	rel := ret.Release
	if m := moduleRE.FindStringSubmatch(rel); m != nil {
		ret.Modular = true
		di := distInfoRE.FindStringSubmatch(m[1])
		if di == nil {
			return NEVRA{}, &apollo.Error{Op: op, Kind: apollo.ErrInvalidNEVRA, Message: fmt.Sprintf("%q: bad module dist info %q", s, m[1])}
		}
		ret.DistMajor, _ = strconv.Atoi(di[1])
		if di[2] != "" {
			minor, _ := strconv.Atoi(di[2])
			ret.DistMinor = &minor
		}
	} else if m := c.distRE.FindStringSubmatch(rel); m != nil {
		ret.DistMajor, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minor, _ := strconv.Atoi(m[2])
			ret.DistMinor = &minor
		}
	} else {
		return NEVRA{}, &apollo.Error{Op: op, Kind: apollo.ErrInvalidNEVRA, Message: fmt.Sprintf("%q: missing dist tag", s)}
	}

	ret.Cleaned = c.Clean(ret.Raw)
	return ret, nil
}

// Clean returns the cleaned form of "s": the ".rpm" suffix, epoch, dist tag,
// and module marker are removed, and modular packages gain a "module."
// prefix. Clean is a pure string transform and idempotent; it does not
// require "s" to pass [Config.Parse].
func (c *Config) Clean(s string) string {
	c.compile()
	s = strings.TrimSuffix(s, ".rpm")
	if m := epochRE.FindStringIndex(s); m != nil {
		s = s[:m[0]+1] + s[m[1]:]
	}
	modular := false
	if m := moduleRE.FindStringIndex(s); m != nil {
		modular = true
		s = s[:m[0]] + s[m[1]:]
	}
	if m := c.distRE.FindStringIndex(s); m != nil {
		s = s[:m[0]] + s[m[1]:]
	}
	if modular {
		s = "module." + s
	}
	return s
}

// PrefixMatch reports whether a repository package's cleaned NEVRA matches an
// advisory's cleaned NEVRA, allowing the repository extra trailing release
// characters. This absorbs a downstream appending a rebuild counter, e.g.
// "…-6.el9.1" still matching "…-6.el9".
func (c *Config) PrefixMatch(advisory, candidate string) bool {
	c.compile()
	ab, aa, ok := c.splitArch(advisory)
	if !ok {
		return false
	}
	cb, ca, ok := c.splitArch(candidate)
	if !ok {
		return false
	}
	return aa == ca && strings.HasPrefix(cb, ab)
}

// ArchesFor returns the set of package arches a repository of arch "arch"
// can ship: the arch itself, "src", "noarch", and "i686" when configured for
// x86_64.
func (c *Config) ArchesFor(arch string) map[string]struct{} {
	c.compile()
	m := map[string]struct{}{
		arch:     {},
		"src":    {},
		"noarch": {},
	}
	if c.X86ImpliesI686 && arch == "x86_64" {
		m["i686"] = struct{}{}
	}
	return m
}

func (c *Config) splitArch(s string) (string, string, bool) {
	i := strings.LastIndexByte(s, '.')
	if i == -1 {
		return "", "", false
	}
	if _, ok := c.arches[s[i+1:]]; !ok {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// ModuleRelease is the decomposition of a modular package's release field.
type ModuleRelease struct {
	// Counter is the release portion before the module marker.
	Counter string
	// DistInfo is the distribution segment of the marker, e.g. "el9.6.0".
	DistInfo string
	// ModuleCounter and Context identify one module build.
	ModuleCounter string
	Context       string
	// Rebuild is whatever trails the context, e.g. ".1".
	Rebuild string
}

// ParseModuleRelease decomposes "rel". The second return is false when "rel"
// carries no module marker.
func ParseModuleRelease(rel string) (ModuleRelease, bool) {
	m := moduleRE.FindStringSubmatchIndex(rel)
	if m == nil {
		return ModuleRelease{}, false
	}
	return ModuleRelease{
		Counter:       rel[:m[0]],
		DistInfo:      rel[m[2]:m[3]],
		ModuleCounter: rel[m[4]:m[5]],
		Context:       rel[m[6]:m[7]],
		Rebuild:       rel[m[1]:],
	}, true
}

// Equivalent reports whether two modular releases identify the same artifact.
//
// Only the leading counter and the dist info participate: the module build
// counter, context, and any rebuild suffix vary per rebuild of the same
// artifact. A dist info mismatch means the rpm was built against a different
// platform stream and must not be accepted.
func (m ModuleRelease) Equivalent(o ModuleRelease) bool {
	return m.Counter == o.Counter && m.DistInfo == o.DistInfo
}
