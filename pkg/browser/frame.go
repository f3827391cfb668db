package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"

	"klarnaparser/pkg/config"
)

// FrameLocator identifies an iframe. Name, ID and Title are compared
// against the iframe's attributes in that order; Index is the
// document-order fallback used when no attribute is set or none matches.
type FrameLocator struct {
	Name  string
	ID    string
	Title string
	Index int
}

// LocatorFromConfig converts the configured frame description
func LocatorFromConfig(fc config.FrameConfig) FrameLocator {
	return FrameLocator(fc)
}

// Match picks the frame described by l from frames in document order
func (l FrameLocator) Match(frames []*cdp.Node) (*cdp.Node, bool) {
	attrs := []struct{ name, want string }{
		{"name", l.Name},
		{"id", l.ID},
		{"title", l.Title},
	}
	for _, a := range attrs {
		if a.want == "" {
			continue
		}
		for _, f := range frames {
			if f.AttributeValue(a.name) == a.want {
				return f, true
			}
		}
	}

	if l.Index >= 0 && l.Index < len(frames) {
		return frames[l.Index], true
	}
	return nil, false
}

func (l FrameLocator) String() string {
	var parts []string
	if l.Name != "" {
		parts = append(parts, "name="+l.Name)
	}
	if l.ID != "" {
		parts = append(parts, "id="+l.ID)
	}
	if l.Title != "" {
		parts = append(parts, "title="+l.Title)
	}
	parts = append(parts, fmt.Sprintf("index=%d", l.Index))
	return "iframe[" + strings.Join(parts, ",") + "]"
}
