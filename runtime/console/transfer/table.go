package transfer

import (
	"net/url"
	"strings"
	"time"

	"goa.design/txconsole/runtime/console/status"
)

type (
	// Row is one rendered line of the transfer table.
	Row struct {
		// Placeholder is true for the single row rendered for an empty table.
		Placeholder bool
		// ID is the transfer identifier.
		ID string
		// Label is the display label.
		Label string
		// TxHash is the transaction hash or NoHash.
		TxHash string
		// TxURL is the block explorer link, empty when there is no hash or no
		// explorer configured.
		TxURL string
		// StatusLabel is the human label of the status.
		StatusLabel string
		// StatusClass is the severity class used to style the status pill.
		StatusClass status.Class
		// Updated is the formatted last update time.
		Updated string
	}

	// Explorer builds block explorer links for transaction hashes.
	Explorer struct {
		// TxURLTemplate is the transaction page URL with a "{hash}"
		// placeholder, for example "https://etherscan.io/tx/{hash}". When the
		// placeholder is absent the hash is appended as a path segment.
		TxURLTemplate string
	}

	// RowOptions configures Rows.
	RowOptions struct {
		// Explorer builds transaction links.
		Explorer Explorer
		// FormatTime formats the last update time. Defaults to "15:04:05".
		FormatTime func(time.Time) string
	}
)

const (
	// NoHash is rendered in place of a missing transaction hash.
	NoHash = "—"
	// PlaceholderLabel is the label of the empty table placeholder row.
	PlaceholderLabel = "No transfers yet"
)

// TxURL returns the explorer page for hash, or "" when hash or the template
// is empty.
func (e Explorer) TxURL(hash string) string {
	if hash == "" || e.TxURLTemplate == "" {
		return ""
	}
	escaped := url.PathEscape(hash)
	if strings.Contains(e.TxURLTemplate, "{hash}") {
		return strings.ReplaceAll(e.TxURLTemplate, "{hash}", escaped)
	}
	return strings.TrimRight(e.TxURLTemplate, "/") + "/" + escaped
}

// Rows renders snapshot as table rows. An empty snapshot renders exactly one
// placeholder row.
func Rows(snapshot []Record, opts RowOptions) []Row {
	if len(snapshot) == 0 {
		return []Row{{Placeholder: true, Label: PlaceholderLabel}}
	}
	format := opts.FormatTime
	if format == nil {
		format = func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("15:04:05")
		}
	}
	rows := make([]Row, 0, len(snapshot))
	for _, rec := range snapshot {
		row := Row{
			ID:          rec.ID,
			Label:       rec.DisplayLabel(),
			TxHash:      NoHash,
			StatusLabel: status.Label(rec.Status),
			StatusClass: status.Classify(rec.Status),
			Updated:     format(rec.UpdatedAt),
		}
		if rec.TxHash != "" {
			row.TxHash = rec.TxHash
			row.TxURL = opts.Explorer.TxURL(rec.TxHash)
		}
		rows = append(rows, row)
	}
	return rows
}
