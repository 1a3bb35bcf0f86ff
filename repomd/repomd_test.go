package repomd

import (
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func loadRepoMD(t *testing.T) *RepoMD {
	t.Helper()
	path := filepath.Join("testdata", "repomd.xml")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open test data: %v", err)
	}
	defer f.Close()

	md := &RepoMD{}
	if err := xml.NewDecoder(f).Decode(md); err != nil {
		t.Fatalf("failed to parse repomd test data into struct: %v", err)
	}
	return md
}

func TestRepoMDParse(t *testing.T) {
	md := loadRepoMD(t)
	if got, want := len(md.RepoList), 4; got != want {
		t.Errorf("bad repo list length: got: %d, want: %d", got, want)
	}
	if got, want := md.Revision, 1716400000; got != want {
		t.Errorf("bad revision: got: %d, want: %d", got, want)
	}
}

func TestRepoMDResolve(t *testing.T) {
	tests := []struct {
		repoType RepoType
		want     string
	}{
		{Primary, "http://test-mirror/repo/repodata/primary.xml.gz"},
		{Modules, "http://test-mirror/repo/repodata/modules.yaml.xz"},
		{UpdateInfo, "http://test-mirror/repo/repodata/updateinfo.xml.gz"},
	}

	md := loadRepoMD(t)
	for _, test := range tests {
		repo, err := md.Repo(test.repoType, "http://test-mirror/repo/")
		if err != nil {
			t.Error(err)
			continue
		}
		if got := repo.Location.Href; got != test.want {
			t.Error(cmp.Diff(got, test.want))
		}
	}

	if _, err := md.Repo(RepoType("group"), ""); !errors.Is(err, ErrRepoNotFound) {
		t.Errorf("expected ErrRepoNotFound, got: %v", err)
	}
}
