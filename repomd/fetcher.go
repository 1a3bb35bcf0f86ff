package repomd

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/quay/zlog"

	"github.com/resf/apollo"
	"github.com/resf/apollo/internal/httputil"
	"github.com/resf/apollo/internal/zreader"
)

// DefaultMaxBytes caps how much of any one referenced file gets read off the
// wire. Oversized metadata is rejected rather than buffered.
const DefaultMaxBytes int64 = 512 << 20

// Metadata is everything advisory matching needs from one repository.
type Metadata struct {
	Packages []Package
	// Modules maps an artifact NEVRA to the module build that shipped it.
	// Nil when the repository has no modules data.
	Modules map[string]Module
}

// Fetcher reads repository metadata over HTTP.
//
// The zero value uses [http.DefaultClient] and [DefaultMaxBytes]. A Fetcher
// is stateless and safe for concurrent use.
type Fetcher struct {
	Client *http.Client
	// MaxBytes overrides DefaultMaxBytes when positive.
	MaxBytes int64
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *Fetcher) max() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

// Fetch loads the repomd.xml at "repomdURL", then the primary and optional
// modules files it references. Referenced hrefs resolve against the parent of
// the repodata directory holding the repomd.xml.
func (f *Fetcher) Fetch(ctx context.Context, repomdURL string) (*Metadata, error) {
	const op = "repomd/Fetcher.Fetch"
	ctx = zlog.ContextWithValues(ctx, "component", op, "repomd", repomdURL)

	base, err := url.Parse(repomdURL)
	if err != nil {
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrFetch, Message: "bad repomd url", Inner: err}
	}
	root, err := base.Parse("../")
	if err != nil {
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrFetch, Message: "bad repomd url", Inner: err}
	}

	body, err := f.get(ctx, repomdURL)
	if err != nil {
		return nil, err
	}
	var md RepoMD
	err = xml.NewDecoder(body).Decode(&md)
	body.Close()
	if err != nil {
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrDecode, Message: "parsing repomd.xml", Inner: err}
	}

	pri, err := md.Repo(Primary, root.String())
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, ErrRepoNotFound):
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrSchema, Message: "repomd has no primary data"}
	default:
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrDecode, Message: "resolving primary href", Inner: err}
	}

	ret := Metadata{}
	if err := f.read(ctx, pri.Location.Href, func(r io.Reader) (err error) {
		ret.Packages, err = parsePrimary(ctx, r)
		return err
	}); err != nil {
		return nil, err
	}

	mod, err := md.Repo(Modules, root.String())
	switch {
	case errors.Is(err, nil):
		if err := f.read(ctx, mod.Location.Href, func(r io.Reader) (err error) {
			ret.Modules, err = parseModules(ctx, r)
			return err
		}); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrRepoNotFound):
		zlog.Debug(ctx).Msg("no modules data")
	default:
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrDecode, Message: "resolving modules href", Inner: err}
	}

	zlog.Debug(ctx).
		Int("packages", len(ret.Packages)).
		Int("module artifacts", len(ret.Modules)).
		Msg("fetched repository metadata")
	return &ret, nil
}

// Read fetches "href", transparently decompresses it, and hands the stream to
// "parse".
func (f *Fetcher) read(ctx context.Context, href string, parse func(io.Reader) error) error {
	body, err := f.get(ctx, href)
	if err != nil {
		return err
	}
	defer body.Close()
	z, err := zreader.Reader(body)
	if err != nil {
		return &apollo.Error{Op: "repomd/Fetcher.read", Kind: apollo.ErrDecode, Message: fmt.Sprintf("opening %q", href), Inner: err}
	}
	defer z.Close()
	return parse(z)
}

func (f *Fetcher) get(ctx context.Context, u string) (io.ReadCloser, error) {
	const op = "repomd/Fetcher.get"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrFetch, Message: fmt.Sprintf("building request for %q", u), Inner: err}
	}
	res, err := f.client().Do(req)
	if err != nil {
		return nil, &apollo.Error{Op: op, Kind: apollo.ErrFetch, Message: fmt.Sprintf("requesting %q", u), Inner: err}
	}
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		res.Body.Close()
		return nil, fmt.Errorf("%s: %w", u, err)
	}
	// One extra byte so a stream of exactly max() bytes still reads its EOF.
	return &cappedBody{body: res.Body, n: f.max() + 1}, nil
}

// CappedBody errors out instead of reading past its budget.
type cappedBody struct {
	body io.ReadCloser
	n    int64
}

func (c *cappedBody) Read(p []byte) (int, error) {
	if c.n <= 0 {
		return 0, &apollo.Error{Kind: apollo.ErrFetch, Message: "metadata byte cap exceeded"}
	}
	if int64(len(p)) > c.n {
		p = p[:c.n]
	}
	n, err := c.body.Read(p)
	c.n -= int64(n)
	return n, err
}

func (c *cappedBody) Close() error {
	return c.body.Close()
}
