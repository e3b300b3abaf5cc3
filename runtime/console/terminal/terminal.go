// Package terminal renders console sessions to a text terminal.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"goa.design/txconsole/runtime/console/logview"
	"goa.design/txconsole/runtime/console/session"
	"goa.design/txconsole/runtime/console/status"
	"goa.design/txconsole/runtime/console/transfer"
)

type (
	// Sink implements session.Sink by writing log lines and badge changes
	// to a writer as they happen. The latest table is kept and printed on
	// demand with PrintTable.
	Sink struct {
		mu       sync.Mutex
		w        io.Writer
		color    bool
		styles   styles
		badge    session.Badge
		rows     []transfer.Row
		disabled bool
		settled  chan session.Badge
	}

	// Option configures a Sink.
	Option func(*Sink)

	styles struct {
		renderer *lipgloss.Renderer
		levels   map[logview.Level]lipgloss.Style
		variants map[session.Variant]lipgloss.Style
		classes  map[status.Class]lipgloss.Style
		faint    lipgloss.Style
		header   lipgloss.Style
		cell     lipgloss.Style
	}
)

var _ session.Sink = (*Sink)(nil)

// WithColor enables ANSI colors.
func WithColor(enabled bool) Option {
	return func(s *Sink) {
		s.color = enabled
	}
}

// New returns a sink writing to w.
func New(w io.Writer, opts ...Option) *Sink {
	s := &Sink{w: w, settled: make(chan session.Badge, 1)}
	for _, opt := range opts {
		opt(s)
	}
	s.styles = newStyles(w, s.color)
	return s
}

// newStyles returns the styles rendered to w. Without color every style
// renders plain text.
func newStyles(w io.Writer, color bool) styles {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	fg := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }
	red, green, yellow, cyan := fg("1"), fg("2"), fg("3"), fg("6")
	return styles{
		renderer: r,
		levels: map[logview.Level]lipgloss.Style{
			logview.LevelError: red,
			logview.LevelWarn:  yellow,
		},
		variants: map[session.Variant]lipgloss.Style{
			session.VariantSuccess: green.Bold(true),
			session.VariantError:   red.Bold(true),
			session.VariantWarning: yellow.Bold(true),
			session.VariantRunning: cyan.Bold(true),
		},
		classes: map[status.Class]lipgloss.Style{
			status.ClassSucceeded:  green,
			status.ClassFailed:     red,
			status.ClassInProgress: cyan,
		},
		faint:  r.NewStyle().Faint(true),
		header: r.NewStyle().Bold(true).Padding(0, 1),
		cell:   r.NewStyle().Padding(0, 1),
	}
}

// Settled receives the session badge each time the submit control is
// re-enabled after a submission, that is when a session ends.
func (s *Sink) Settled() <-chan session.Badge {
	return s.settled
}

// AppendLog implements session.Sink.
func (s *Sink) AppendLog(entry logview.Rendered) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, s.styles.level(entry.Level).Render(entry.String()))
}

// ClearLog implements session.Sink.
func (s *Sink) ClearLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, s.styles.faint.Render("----"))
}

// SetBadge implements session.Sink.
func (s *Sink) SetBadge(b session.Badge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b == s.badge {
		return
	}
	s.badge = b
	_, _ = fmt.Fprintf(s.w, "» %s\n", s.styles.variant(b.Variant).Render(b.Label))
}

// RenderTable implements session.Sink.
func (s *Sink) RenderTable(rows []transfer.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

// SetSubmitEnabled implements session.Sink.
func (s *Sink) SetSubmitEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !enabled {
		s.disabled = true
		return
	}
	if !s.disabled {
		return
	}
	s.disabled = false
	select {
	case s.settled <- s.badge:
	default:
	}
}

// Badge returns the last rendered badge.
func (s *Sink) Badge() session.Badge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.badge
}

// PrintTable writes the latest transfer table.
func (s *Sink) PrintTable() error {
	s.mu.Lock()
	rows := s.rows
	s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, s.styles.table(rows).Render())
	return err
}

// WriteTable writes rows as a bordered table without colors.
func WriteTable(w io.Writer, rows []transfer.Row) error {
	_, err := fmt.Fprintln(w, newStyles(w, false).table(rows).Render())
	return err
}

// table lays rows out with one column per field. Status cells are styled
// by status class.
func (st styles) table(rows []transfer.Row) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.faint).
		Headers("TRANSFER", "TX HASH", "STATUS", "UPDATED")
	for _, r := range rows {
		if r.Placeholder {
			t.Row(r.Label, "", "", "")
			continue
		}
		hash := r.TxHash
		if r.TxURL != "" {
			hash = r.TxURL
		}
		t.Row(r.Label, hash, r.StatusLabel, r.Updated)
	}
	return t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return st.header
		}
		if col == 2 && row >= 0 && row < len(rows) {
			if cs, ok := st.classes[rows[row].StatusClass]; ok {
				return cs.Padding(0, 1)
			}
		}
		return st.cell
	})
}

func (st styles) level(l logview.Level) lipgloss.Style {
	if ls, ok := st.levels[l]; ok {
		return ls
	}
	return st.renderer.NewStyle()
}

func (st styles) variant(v session.Variant) lipgloss.Style {
	if vs, ok := st.variants[v]; ok {
		return vs
	}
	return st.renderer.NewStyle()
}

// Summary counts rows per status class, for example "2 succeeded, 1 failed".
func Summary(rows []transfer.Row) string {
	counts := make(map[status.Class]int)
	for _, r := range rows {
		if !r.Placeholder {
			counts[r.StatusClass]++
		}
	}
	var parts []string
	for _, c := range []status.Class{status.ClassSucceeded, status.ClassFailed, status.ClassInProgress, status.ClassUnrecognized} {
		if n := counts[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, c))
		}
	}
	if len(parts) == 0 {
		return "no transfers"
	}
	return strings.Join(parts, ", ")
}
