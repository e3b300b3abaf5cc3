// Package logview renders console log entries into display-ready values.
//
// A rendered entry carries a short timestamp, its level and the message split
// into ordered text and link segments. Messages come from the event producer
// and are untrusted: segments are plain text and are only ever escaped, never
// interpreted as markup.
package logview

import (
	"html"
	"regexp"
	"strings"
	"time"
)

type (
	// Level is the severity of a log entry.
	Level string

	// SegmentKind distinguishes plain text from hyperlink segments.
	SegmentKind int

	// Segment is a contiguous piece of a rendered message.
	Segment struct {
		// Kind is the segment kind.
		Kind SegmentKind
		// Text is the raw segment text. For links it is also the link target.
		Text string
	}

	// Entry is a single immutable log entry.
	Entry struct {
		// Level is the entry severity.
		Level Level
		// Message is the free-form message text.
		Message string
		// Timestamp is the instant of the event.
		Timestamp time.Time
	}

	// Rendered is the display-ready form of an Entry.
	Rendered struct {
		// Level is the entry severity.
		Level Level
		// Time is the timestamp formatted with the formatter's layout.
		Time string
		// Timestamp is the original entry timestamp.
		Timestamp time.Time
		// Segments is the message split into text and link segments, in
		// original order.
		Segments []Segment
	}

	// Formatter renders entries using a fixed time layout and location.
	Formatter struct {
		layout string
		loc    *time.Location
	}

	// Option configures a Formatter.
	Option func(*Formatter)
)

const (
	// LevelInfo is the default level.
	LevelInfo Level = "info"
	// LevelWarn flags a recoverable problem the operator should look at.
	LevelWarn Level = "warn"
	// LevelError flags a failure.
	LevelError Level = "error"
)

const (
	// SegmentText is a plain text segment.
	SegmentText SegmentKind = iota
	// SegmentLink is an absolute http(s) URL.
	SegmentLink
)

// DefaultTimeLayout is the short time layout used when none is configured.
const DefaultTimeLayout = "15:04:05"

var urlPattern = regexp.MustCompile(`https?://\S+`)

// ParseLevel maps a producer supplied level to a Level. Unknown and empty
// values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return LevelWarn
	case "error", "err":
		return LevelError
	default:
		return LevelInfo
	}
}

// WithTimeLayout sets the time layout (see time.Layout). Empty layouts are
// ignored.
func WithTimeLayout(layout string) Option {
	return func(f *Formatter) {
		if layout != "" {
			f.layout = layout
		}
	}
}

// WithLocation sets the location timestamps are converted to before
// formatting.
func WithLocation(loc *time.Location) Option {
	return func(f *Formatter) {
		if loc != nil {
			f.loc = loc
		}
	}
}

// New returns a Formatter configured with opts.
func New(opts ...Option) *Formatter {
	f := &Formatter{layout: DefaultTimeLayout, loc: time.Local}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Format renders e with the default formatter.
func Format(e Entry) Rendered {
	return New().Format(e)
}

// Format renders e. A zero level renders as LevelInfo.
func (f *Formatter) Format(e Entry) Rendered {
	lvl := e.Level
	if lvl == "" {
		lvl = LevelInfo
	}
	return Rendered{
		Level:     lvl,
		Time:      f.FormatTime(e.Timestamp),
		Timestamp: e.Timestamp,
		Segments:  Segments(e.Message),
	}
}

// Location returns the location timestamps are rendered in.
func (f *Formatter) Location() *time.Location {
	return f.loc
}

// FormatTime formats t with the formatter's layout and location. The zero
// time renders as the empty string.
func (f *Formatter) FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(f.loc).Format(f.layout)
}

// Segments splits msg into text and link segments. Links are maximal
// whitespace-delimited runs starting with "http://" or "https://". Joining
// the segment texts yields msg unchanged.
func Segments(msg string) []Segment {
	if msg == "" {
		return nil
	}
	locs := urlPattern.FindAllStringIndex(msg, -1)
	segs := make([]Segment, 0, 2*len(locs)+1)
	last := 0
	for _, loc := range locs {
		if loc[0] > last {
			segs = append(segs, Segment{Kind: SegmentText, Text: msg[last:loc[0]]})
		}
		segs = append(segs, Segment{Kind: SegmentLink, Text: msg[loc[0]:loc[1]]})
		last = loc[1]
	}
	if last < len(msg) {
		segs = append(segs, Segment{Kind: SegmentText, Text: msg[last:]})
	}
	return segs
}

// Message returns the concatenated segment texts.
func (r Rendered) Message() string {
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// String renders r as a single plain text line.
func (r Rendered) String() string {
	var b strings.Builder
	if r.Time != "" {
		b.WriteString("[")
		b.WriteString(r.Time)
		b.WriteString("] ")
	}
	b.WriteString(strings.ToUpper(string(r.Level)))
	if msg := r.Message(); msg != "" {
		b.WriteString(" ")
		b.WriteString(msg)
	}
	return b.String()
}

// HTML renders r as an HTML fragment. Every segment is escaped: text
// segments become escaped text and link segments become anchors whose target
// and label are escaped.
func (r Rendered) HTML() string {
	var b strings.Builder
	b.WriteString(`<span class="log-entry log-`)
	b.WriteString(html.EscapeString(string(r.Level)))
	b.WriteString(`">`)
	if r.Time != "" {
		b.WriteString(`<time>`)
		b.WriteString(html.EscapeString(r.Time))
		b.WriteString(`</time> `)
	}
	for _, s := range r.Segments {
		text := html.EscapeString(s.Text)
		if s.Kind == SegmentLink {
			b.WriteString(`<a href="`)
			b.WriteString(text)
			b.WriteString(`" target="_blank" rel="noopener noreferrer">`)
			b.WriteString(text)
			b.WriteString(`</a>`)
			continue
		}
		b.WriteString(text)
	}
	b.WriteString(`</span>`)
	return b.String()
}
