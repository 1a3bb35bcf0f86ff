package rss

import (
	"strings"
	"testing"
	"time"

	"github.com/resf/apollo"
)

func TestRender(t *testing.T) {
	published := time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC)
	updated := time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)
	advisories := []apollo.Advisory{{
		Name:        "RLSA-2024:1234",
		PublishedAt: &published,
		Synopsis:    "Important: bash security update",
		Topic:       "An update for bash is now available for Rocky Linux 9.",
		CreatedAt:   published,
		UpdatedAt:   updated,
	}}

	var r Renderer
	feed := r.Render(advisories)
	if got, want := feed.Title, "Errata Feed"; got != want {
		t.Errorf("got title %q, want %q", got, want)
	}
	if got := len(feed.Items); got != 1 {
		t.Fatalf("got %d items, want 1", got)
	}
	item := feed.Items[0]
	if got, want := item.Title, "RLSA-2024:1234: Important: bash security update"; got != want {
		t.Errorf("got item title %q, want %q", got, want)
	}
	if got, want := item.Link.Href, "https://errata.rockylinux.org/RLSA-2024:1234"; got != want {
		t.Errorf("got link %q, want %q", got, want)
	}
	if !item.Created.Equal(published) {
		t.Errorf("got created %v, want %v", item.Created, published)
	}
	if !feed.Updated.Equal(updated) {
		t.Errorf("got feed updated %v, want %v", feed.Updated, updated)
	}

	out, err := feed.ToRss()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "RLSA-2024:1234") {
		t.Error("serialized feed missing advisory name")
	}
}
