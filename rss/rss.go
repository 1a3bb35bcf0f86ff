// Package rss renders advisory listings as RSS feeds.
package rss

import (
	"github.com/gorilla/feeds"

	"github.com/resf/apollo"
)

// Renderer turns advisory lists into feeds.
type Renderer struct {
	// Title and Link describe the feed itself.
	Title string
	Link  string
	// SelfBase prefixes each advisory's page URL.
	SelfBase string
}

const (
	defaultTitle    = "Errata Feed"
	defaultSelfBase = "https://errata.rockylinux.org"
)

// Render produces the feed for the provided advisories, assumed
// newest-first.
func (r *Renderer) Render(advisories []apollo.Advisory) *feeds.Feed {
	title := r.Title
	if title == "" {
		title = defaultTitle
	}
	selfBase := r.SelfBase
	if selfBase == "" {
		selfBase = defaultSelfBase
	}
	link := r.Link
	if link == "" {
		link = selfBase
	}

	feed := feeds.Feed{
		Title: title,
		Link:  &feeds.Link{Href: link},
	}
	for i := range advisories {
		a := &advisories[i]
		item := feeds.Item{
			Id:          a.Name,
			Title:       a.Name + ": " + a.Synopsis,
			Link:        &feeds.Link{Href: selfBase + "/" + a.Name},
			Description: a.Topic,
			Created:     a.CreatedAt,
			Updated:     a.UpdatedAt,
		}
		if a.PublishedAt != nil {
			item.Created = *a.PublishedAt
		}
		if feed.Updated.Before(item.Updated) {
			feed.Updated = item.Updated
		}
		feed.Items = append(feed.Items, &item)
	}
	return &feed
}
