package feed

import (
	"errors"
	"testing"
)

const notification = `<?xml version='1.0' encoding='UTF-8'?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
  <link rel="hub" href="https://pubsubhubbub.appspot.com"/>
  <link rel="self" href="https://www.youtube.com/xml/feeds/videos.xml?channel_id=UC123"/>
  <title>YouTube video feed</title>
  <updated>2025-01-02T03:04:05.000000+00:00</updated>
  <entry>
    <id>yt:video:abc123</id>
    <yt:videoId>abc123</yt:videoId>
    <yt:channelId>UC123</yt:channelId>
    <title>VSPEED GLOVE STATION LIVE</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=abc123"/>
    <author><name>VSPEED</name><uri>https://www.youtube.com/channel/UC123</uri></author>
    <published>2025-01-02T03:00:00+00:00</published>
    <updated>2025-01-02T03:04:05.000000+00:00</updated>
  </entry>
  <entry>
    <id>yt:video:def456</id>
    <title></title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=def456&amp;t=10"/>
  </entry>
  <entry>
    <id>no-id-here</id>
    <title>Community post</title>
    <link rel="alternate" href="https://www.youtube.com/post/xyz"/>
  </entry>
</feed>`

func TestParseNotification(t *testing.T) {
	t.Parallel()
	b, err := Parse([]byte(notification))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	evs := b.Collect()
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(evs), evs)
	}

	first := evs[0]
	if first.ID != "abc123" || first.Title != "VSPEED GLOVE STATION LIVE" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if first.URL != "https://www.youtube.com/watch?v=abc123" {
		t.Fatalf("URL = %q", first.URL)
	}
	if first.ThumbnailURL != "https://i.ytimg.com/vi/abc123/hqdefault.jpg" {
		t.Fatalf("ThumbnailURL = %q", first.ThumbnailURL)
	}
	if first.ChannelID != "UC123" || first.Author != "VSPEED" || first.Published.IsZero() {
		t.Fatalf("optional fields not populated: %+v", first)
	}

	second := evs[1]
	if second.ID != "def456" {
		t.Fatalf("link fallback id = %q, want def456", second.ID)
	}
	if second.Title != DefaultTitle {
		t.Fatalf("Title = %q, want %q", second.Title, DefaultTitle)
	}
}

func TestEventsStopsEarly(t *testing.T) {
	t.Parallel()
	b, err := Parse([]byte(notification))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	n := 0
	for range b.Events() {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("iterated %d events after break", n)
	}
}

const ytFeedOpen = `<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">`

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"plain text", "this is not xml"},
		{"truncated", `<feed xmlns="http://www.w3.org/2005/Atom"><entry><title>x</title>`},
		{"html", "<html><body>hi</body></html>"},
		{"trailing junk", ytFeedOpen + `<entry><yt:videoId>abc123</yt:videoId><title>GLOVE STATION</title></entry></feed>garbage<<<`},
		{"trailing text", ytFeedOpen + `<entry><yt:videoId>abc123</yt:videoId><title>GLOVE STATION</title></entry></feed>garbage`},
		{"second root", ytFeedOpen + `<entry><yt:videoId>abc123</yt:videoId></entry></feed><feed/>`},
		{"mismatched tag", ytFeedOpen + `<entry><yt:videoId>abc123</yt:videoId><title>GLOVE STATION</titl></entry></feed>`},
		{"undefined entity", ytFeedOpen + `<entry><yt:videoId>abc123</yt:videoId><title>GLOVE&nbsp;STATION</title></entry></feed>`},
		{"unquoted attribute", ytFeedOpen + `<entry><yt:videoId>abc123</yt:videoId><title>GLOVE STATION</title><link href=x/></entry></feed>`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := Parse([]byte(tt.body))
			if err == nil {
				t.Fatalf("expected error, got batch with %d entries", b.Len())
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %T %v, want *ParseError", err, err)
			}
			if b != nil {
				t.Fatal("no batch should be returned on error")
			}
		})
	}
}

func TestParseEmptyFeed(t *testing.T) {
	t.Parallel()
	b, err := Parse([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"><title>t</title></feed>`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got := len(b.Collect()); got != 0 {
		t.Fatalf("got %d events, want 0", got)
	}
}

func TestVideoIDFromLink(t *testing.T) {
	t.Parallel()
	tests := []struct{ link, want string }{
		{"https://www.youtube.com/watch?v=abc", "abc"},
		{"https://www.youtube.com/watch?feature=x&v=abc", "abc"},
		{"https://www.youtube.com/watch?dev=1", ""},
		{"https://www.youtube.com/shorts/abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := videoIDFromLink(tt.link); got != tt.want {
			t.Fatalf("videoIDFromLink(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestTopicURL(t *testing.T) {
	t.Parallel()
	if got := TopicURL("UC123"); got != "https://www.youtube.com/xml/feeds/videos.xml?channel_id=UC123" {
		t.Fatalf("TopicURL = %q", got)
	}
}
