// Package domain contains core domain types shared across modules.
package domain

import "time"

// ContentItem is a single ingested item supplied by an external content source.
type ContentItem struct {
	ID          string            `json:"id"`
	Fields      map[string]string `json:"fields"`
	PublishedAt time.Time         `json:"published_at"`
}

// RenderedContent is the message body produced by the external template
// renderer for one content item. The queue stores a snapshot of it so a later
// template change never alters an already queued delivery.
type RenderedContent struct {
	Text      string   `json:"text"`
	MediaRefs []string `json:"media_refs,omitempty"`
}
