package apollo

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Updateinfo is the document DNF and YUM consume as updateinfo.xml.
//
// The types here round-trip through [encoding/xml]; the updateinfo package
// assembles them from stored advisories.
type Updateinfo struct {
	XMLName xml.Name `xml:"updates"`
	Updates []Update `xml:"update"`
}

// Update is one <update> element, i.e. one advisory.
type Update struct {
	From        string             `xml:"from,attr"`
	Status      string             `xml:"status,attr"`
	Type        string             `xml:"type,attr"`
	Version     string             `xml:"version,attr"`
	ID          string             `xml:"id"`
	Title       string             `xml:"title"`
	Issued      UpdateDate         `xml:"issued"`
	Updated     UpdateDate         `xml:"updated"`
	Rights      string             `xml:"rights"`
	Release     string             `xml:"release"`
	PushCount   int                `xml:"pushcount"`
	Severity    string             `xml:"severity"`
	Summary     string             `xml:"summary"`
	Description string             `xml:"description"`
	Solution    string             `xml:"solution"`
	References  []UpdateReference  `xml:"references>reference"`
	Collections []UpdateCollection `xml:"pkglist>collection"`
}

// UpdateDate carries the "YYYY-MM-DD HH:MM:SS" date attribute on the issued
// and updated elements.
type UpdateDate struct {
	Date `xml:"date,attr"`
}

type Date time.Time

var (
	_ xml.MarshalerAttr   = Date{}
	_ xml.UnmarshalerAttr = (*Date)(nil)
)

const dateAttrFormat = "2006-01-02 15:04:05"

// MarshalXMLAttr implements [xml.MarshalerAttr].
func (d Date) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: time.Time(d).UTC().Format(dateAttrFormat)}, nil
}

// UnmarshalXMLAttr implements [xml.UnmarshalerAttr].
func (d *Date) UnmarshalXMLAttr(attr xml.Attr) (err error) {
	if attr.Name.Local != `date` {
		return fmt.Errorf("unexpected attr name: %q", attr.Name.Local)
	}
	fmts := []string{
		dateAttrFormat, "2006-01-02 15:04",
	}
	var t time.Time
	for _, f := range fmts {
		t, err = time.Parse(f, attr.Value)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("parsing date attr: %w", err)
	}
	*d = Date(t)
	return nil
}

// UpdateReference is one external reference of an update: a CVE, a tracker
// ticket, or the advisory's own page.
type UpdateReference struct {
	Href  string `xml:"href,attr"`
	ID    string `xml:"id,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

// UpdateCollection is one <collection> of packages. Modular packages get one
// collection per module name, carrying the module element; DNF treats a
// collection as atomic when resolving module streams.
type UpdateCollection struct {
	Short    string          `xml:"short,attr"`
	Name     string          `xml:"name"`
	Module   *UpdateModule   `xml:"module,omitempty"`
	Packages []UpdatePackage `xml:"package"`
}

// UpdateModule identifies the module stream a collection's packages belong to.
type UpdateModule struct {
	Name    string `xml:"name,attr"`
	Stream  string `xml:"stream,attr"`
	Version string `xml:"version,attr"`
	Context string `xml:"context,attr"`
	Arch    string `xml:"arch,attr"`
}

// UpdatePackage is one <package> element of a collection.
type UpdatePackage struct {
	Name     string    `xml:"name,attr"`
	Version  string    `xml:"version,attr"`
	Release  string    `xml:"release,attr"`
	Epoch    string    `xml:"epoch,attr"`
	Arch     string    `xml:"arch,attr"`
	Src      string    `xml:"src,attr"`
	Filename string    `xml:"filename"`
	Sum      UpdateSum `xml:"sum"`
}

// UpdateSum is the checksum of a package file.
type UpdateSum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}
