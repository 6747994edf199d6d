package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

const (
	// Namespace of the yt:videoId / yt:channelId elements.
	YouTubeNamespace = "http://www.youtube.com/xml/schemas/2015"

	DefaultTitle = "New Video"

	watchURLPrefix = "https://www.youtube.com/watch?v="
	thumbURLFormat = "https://i.ytimg.com/vi/%s/hqdefault.jpg"
	topicURLPrefix = "https://www.youtube.com/xml/feeds/videos.xml?channel_id="
)

// Event is one video announcement. Identity is ID.
type Event struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	ChannelID    string    `json:"channel_id,omitempty"`
	Author       string    `json:"author,omitempty"`
	Published    time.Time `json:"published,omitzero"`
}

// ParseError reports a notification body that could not be parsed as a feed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "feed: invalid notification: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

var errUnsupportedFeed = errors.New("unsupported feed type")

// Batch is a parsed notification. Events are built on demand.
type Batch struct {
	items []*gofeed.Item
}

// Parse parses a notification body. The body must be a complete Atom (or RSS)
// document; otherwise a *ParseError is returned and no batch.
func Parse(body []byte) (*Batch, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Err: errors.New("empty document")}
	}
	if err := wellFormed(body); err != nil {
		return nil, &ParseError{Err: err}
	}
	f, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	switch f.FeedType {
	case "atom", "rss":
	default:
		return nil, &ParseError{Err: fmt.Errorf("%w: %s", errUnsupportedFeed, f.FeedType)}
	}
	return &Batch{items: f.Items}, nil
}

// wellFormed rejects anything that is not exactly one well-formed XML
// document. gofeed parses leniently and would recover entries from broken input.
func wellFormed(body []byte) error {
	d := xml.NewDecoder(bytes.NewReader(body))
	d.Strict = true
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	depth, roots := 0, 0
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return fmt.Errorf("second root element <%s>", t.Name.Local)
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return errors.New("text outside the root element")
			}
		}
	}
	if roots == 0 {
		return errors.New("no root element")
	}
	return nil
}

// Len is the number of entries in the document, including ones without an id.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.items)
}

// Events yields one Event per usable entry, in document order.
func (b *Batch) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if b == nil {
			return
		}
		for _, it := range b.items {
			ev, ok := eventFromItem(it)
			if !ok {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Collect is a convenience for callers that need the whole list.
func (b *Batch) Collect() []Event { return slices.Collect(b.Events()) }

func eventFromItem(it *gofeed.Item) (Event, bool) {
	if it == nil {
		return Event{}, false
	}
	id := extensionValue(it.Extensions, "videoId")
	if id == "" {
		id = idFromLinks(it)
	}
	if id == "" {
		return Event{}, false
	}

	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = DefaultTitle
	}
	ev := Event{
		ID:           id,
		Title:        title,
		URL:          WatchURL(id),
		ThumbnailURL: ThumbnailURL(id),
		ChannelID:    extensionValue(it.Extensions, "channelId"),
	}
	if it.Author != nil {
		ev.Author = it.Author.Name
	}
	if it.PublishedParsed != nil {
		ev.Published = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		ev.Published = *it.UpdatedParsed
	}
	return ev, true
}

// extensionValue finds name under any prefix; documents may bind the YouTube
// namespace to something other than "yt".
func extensionValue(exts ext.Extensions, name string) string {
	if v := firstValue(exts["yt"][name]); v != "" {
		return v
	}
	for _, byName := range exts {
		if v := firstValue(byName[name]); v != "" {
			return v
		}
	}
	return ""
}

func firstValue(xs []ext.Extension) string {
	for _, x := range xs {
		if v := strings.TrimSpace(x.Value); v != "" {
			return v
		}
	}
	return ""
}

func idFromLinks(it *gofeed.Item) string {
	links := make([]string, 0, 1+len(it.Links))
	if it.Link != "" {
		links = append(links, it.Link)
	}
	links = append(links, it.Links...)
	for _, l := range links {
		if id := videoIDFromLink(l); id != "" {
			return id
		}
	}
	return ""
}

// videoIDFromLink returns the "v" query parameter of a watch link.
func videoIDFromLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if u, err := url.Parse(link); err == nil {
		return strings.TrimSpace(u.Query().Get("v"))
	}
	// Tolerate links that url.Parse rejects.
	if i := strings.Index(link, "?v="); i >= 0 {
		i++
		v := link[i+2:]
		if j := strings.IndexAny(v, "&#"); j >= 0 {
			v = v[:j]
		}
		return strings.TrimSpace(v)
	}
	return ""
}

func WatchURL(id string) string     { return watchURLPrefix + id }
func ThumbnailURL(id string) string { return fmt.Sprintf(thumbURLFormat, id) }

// TopicURL is the hub topic for a channel's upload feed.
func TopicURL(channelID string) string { return topicURLPrefix + url.QueryEscape(channelID) }
