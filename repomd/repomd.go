// Package repomd reads YUM repository metadata.
//
// A repomd.xml names the repository's data files; the reader here resolves
// and parses the "primary" package list and the optional "modules" modulemd
// stream, which together are what advisory matching needs.
package repomd

import (
	"errors"
	"net/url"
)

// RepoType is the type attribute of a repomd data element.
type RepoType string

// ErrRepoNotFound is reported when the repomd has no data element of the
// requested type.
var ErrRepoNotFound = errors.New("repo not found")

const (
	Primary    RepoType = "primary"
	Modules    RepoType = "modules"
	UpdateInfo RepoType = "updateinfo"
)

// RepoMD is the parsed form of a repomd.xml.
type RepoMD struct {
	XMLNS    string `xml:"xmlns,attr"`
	XMLRPM   string `xml:"xmlns rpm,attr"`
	Revision int    `xml:"revision"`
	RepoList []Repo `xml:"data"`
}

// Repo is one data element of a repomd.xml.
type Repo struct {
	Type            string   `xml:"type,attr"`
	Checksum        Checksum `xml:"checksum"`
	OpenChecksum    Checksum `xml:"open-checksum"`
	Location        Location `xml:"location"`
	Timestamp       int      `xml:"timestamp"`
	DatabaseVersion int      `xml:"database_version"`
	Size            int      `xml:"size"`
	OpenSize        int      `xml:"open-size"`
}

type Checksum struct {
	Sum  string `xml:",chardata"`
	Type string `xml:"type,attr"`
}

type Location struct {
	Href string `xml:"href,attr"`
}

// Repo returns the Repo of the specified RepoType.
// If a root url is provided a fully qualified Repo.Location.Href is returned.
// An ErrRepoNotFound error is returned if the RepoType cannot be located.
func (md *RepoMD) Repo(t RepoType, root string) (*Repo, error) {
	for i := range md.RepoList {
		repo := &md.RepoList[i]
		if repo.Type != string(t) {
			continue
		}
		if root != "" {
			u, err := url.Parse(root)
			if err != nil {
				return nil, err
			}
			href, err := u.Parse(repo.Location.Href)
			if err != nil {
				return nil, err
			}
			repo.Location.Href = href.String()
		}
		return repo, nil
	}
	return nil, ErrRepoNotFound
}
