package repomd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"

	"github.com/resf/apollo"
)

// RepoServer serves the testdata repository, compressing the referenced
// files on the way out like a real mirror would.
func repoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repo/repodata/repomd.xml":
			http.ServeFile(w, r, "testdata/repomd.xml")
		case "/repo/repodata/primary.xml.gz":
			f, err := os.Open("testdata/primary.xml")
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			defer f.Close()
			gz := gzip.NewWriter(w)
			defer gz.Close()
			io.Copy(gz, f)
		case "/repo/repodata/modules.yaml.xz":
			f, err := os.Open("testdata/modules.yaml")
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			defer f.Close()
			xw, err := xz.NewWriter(w)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			defer xw.Close()
			io.Copy(xw, f)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	srv := repoServer(t)

	f := Fetcher{Client: srv.Client()}
	md, err := f.Fetch(ctx, srv.URL+"/repo/repodata/repomd.xml")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := len(md.Packages), 5; got != want {
		t.Errorf("unexpected package count: got: %d, want: %d", got, want)
	}
	want := Package{
		Name:         "redis",
		Epoch:        "0",
		Version:      "7.2.10",
		Release:      "1.module+el9.6.0+23332+115a3b01",
		Arch:         "x86_64",
		ChecksumType: "sha256",
		Checksum:     "bb7c9a2e6c1f7cafcfe6a4b4206c4bab4eface0dbe6e62a7c7f45a87f47b0d9c",
		SourceRPM:    "redis-7.2.10-1.module+el9.6.0+23332+115a3b01.src.rpm",
	}
	var got *Package
	for i := range md.Packages {
		if md.Packages[i].Name == "redis" {
			got = &md.Packages[i]
			break
		}
	}
	if got == nil {
		t.Fatal("redis package not parsed")
	}
	if !gocmp.Equal(*got, want) {
		t.Error(gocmp.Diff(*got, want))
	}
	if got, want := got.NEVRA(), "redis-0:7.2.10-1.module+el9.6.0+23332+115a3b01.x86_64"; got != want {
		t.Errorf("bad NEVRA: got: %q, want: %q", got, want)
	}

	if got, want := len(md.Modules), 3; got != want {
		t.Errorf("unexpected module artifact count: got: %d, want: %d", got, want)
	}
	mod, ok := md.Modules["redis-0:7.2.10-1.module+el9.6.0+23332+115a3b01.x86_64"]
	if !ok {
		t.Fatal("redis artifact not in module map")
	}
	wantMod := Module{
		Name:    "redis",
		Stream:  "7",
		Version: "9060020240521101891",
		Context: "115a3b01",
		Arch:    "x86_64",
	}
	if !gocmp.Equal(mod, wantMod) {
		t.Error(gocmp.Diff(mod, wantMod))
	}
	// Unquoted scalars land as strings.
	if got, want := md.Modules["nodejs-1:20.11.0-1.module+el9.4.0+20583+a75119d5.x86_64"].Stream, "20"; got != want {
		t.Errorf("bad stream: got: %q, want: %q", got, want)
	}
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)

	t.Run("NotFound", func(t *testing.T) {
		srv := repoServer(t)
		f := Fetcher{Client: srv.Client()}
		_, err := f.Fetch(ctx, srv.URL+"/nosuch/repodata/repomd.xml")
		if !errors.Is(err, apollo.ErrFetch) {
			t.Errorf("expected fetch error, got: %v", err)
		}
	})

	t.Run("MissingPrimary", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<repomd xmlns="http://linux.duke.edu/metadata/repo"><revision>1</revision><data type="filelists"><location href="repodata/filelists.xml.gz"/></data></repomd>`)
		}))
		t.Cleanup(srv.Close)
		f := Fetcher{Client: srv.Client()}
		_, err := f.Fetch(ctx, srv.URL+"/repo/repodata/repomd.xml")
		if !errors.Is(err, apollo.ErrSchema) {
			t.Errorf("expected schema error, got: %v", err)
		}
	})

	t.Run("BadXML", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `this is not xml`)
		}))
		t.Cleanup(srv.Close)
		f := Fetcher{Client: srv.Client()}
		_, err := f.Fetch(ctx, srv.URL+"/repo/repodata/repomd.xml")
		if !errors.Is(err, apollo.ErrDecode) {
			t.Errorf("expected decode error, got: %v", err)
		}
	})

	t.Run("ByteCap", func(t *testing.T) {
		srv := repoServer(t)
		f := Fetcher{Client: srv.Client(), MaxBytes: 16}
		_, err := f.Fetch(ctx, srv.URL+"/repo/repodata/repomd.xml")
		if !errors.Is(err, apollo.ErrFetch) {
			t.Errorf("expected fetch error, got: %v", err)
		}
	})
}

func TestSourceName(t *testing.T) {
	t.Parallel()
	tt := []struct {
		In   string
		Want string
		OK   bool
	}{
		{In: "bash-5.1.8-6.el9.1.src.rpm", Want: "bash", OK: true},
		{In: "java-1.8.0-openjdk-1.8.0.372.b07-1.el8_7.src.rpm", Want: "java-1.8.0-openjdk", OK: true},
		{In: "redis-7.2.10-1.module+el9.6.0+23332+115a3b01.src.rpm", Want: "redis", OK: true},
		{In: "", OK: false},
		{In: "bash.rpm", OK: false},
	}
	for _, tc := range tt {
		got, ok := SourceName(tc.In)
		if ok != tc.OK || got != tc.Want {
			t.Errorf("%q: got: (%q, %v), want: (%q, %v)", tc.In, got, ok, tc.Want, tc.OK)
		}
	}
}
