package internal

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"ghost-chat/domain"

	"github.com/dgraph-io/badger/v4"
)

//go:embed inspect.html
var templatesFS embed.FS

const maxDetailLength = 120

type InspectRow struct {
	Key    string
	Kind   string
	Entity string
	Detail string
}

type StatsProvider func() map[string]any

type PageData struct {
	Prefix   string
	Prefixes []string
	Items    []InspectRow
	Stats    map[string]any
}

// Prefixes are the key families offered by the debug page.
var Prefixes = []string{"msg:", "msgref:", "group:", "user:id:", "username:", "call:", "file:"}

// NewDebugHandler serves an HTML view of the raw store under endpoint.
// ?prefix= narrows the scan to one key family, messages by default.
func NewDebugHandler(db *badger.DB, endpoint string, stats StatsProvider, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "msg:"
		}
		data := PageData{Prefix: prefix, Prefixes: Prefixes, Stats: map[string]any{}}
		if stats != nil {
			data.Stats = stats()
		}

		rows, err := ScanRows(db, prefix)
		if err != nil {
			log.Warn("Debug scan failed", "prefix", prefix, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Items = rows

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			log.Warn("Debug page rendering failed", "error", err)
		}
	})
	return mux
}

// ScanRows describes every entry whose key starts with prefix.
func ScanRows(db *badger.DB, prefix string) ([]InspectRow, error) {
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			err := item.Value(func(val []byte) error {
				rows = append(rows, DescribeEntry(key, val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

// DescribeEntry turns a stored key/value pair into a printable row.
// Unknown families fall back to the raw size.
func DescribeEntry(key string, val []byte) InspectRow {
	row := InspectRow{Key: key, Kind: "RAW", Detail: fmt.Sprintf("Size: %d bytes", len(val))}

	switch {
	case strings.HasPrefix(key, "user:id:"):
		var u domain.User
		if json.Unmarshal(val, &u) == nil {
			row.Kind, row.Entity = "USER", u.ID
			row.Detail = fmt.Sprintf("%s online=%t last_seen=%s", u.Username, u.IsOnline, u.LastSeen.Format("15:04:05"))
		}
	case strings.HasPrefix(key, "username:"):
		row.Kind, row.Entity, row.Detail = "USERNAME", strings.TrimPrefix(key, "username:"), string(val)
	case strings.HasPrefix(key, "group:"):
		var g domain.Group
		if json.Unmarshal(val, &g) == nil {
			row.Kind, row.Entity = "GROUP", g.ID
			row.Detail = fmt.Sprintf("%s private=%t members=%d", g.Name, g.IsPrivate, len(g.Members))
		}
	case strings.HasPrefix(key, "msgref:"):
		row.Kind, row.Detail = "MSGREF", string(val)
		row.Entity = key[strings.LastIndex(key, ":")+1:]
	case strings.HasPrefix(key, "msg:"):
		var m domain.Message
		if json.Unmarshal(val, &m) == nil {
			row.Kind, row.Entity = "MESSAGE", m.ID
			if m.IsEncrypted {
				row.Kind = "REDACTED"
			}
			row.Detail = fmt.Sprintf("%s: %s", m.Sender, m.Text)
		}
	case strings.HasPrefix(key, "call:"):
		var c domain.Call
		if json.Unmarshal(val, &c) == nil {
			row.Kind, row.Entity = "CALL", c.ID
			row.Detail = fmt.Sprintf("%s %s in %s", c.Type, c.Status, c.GroupID)
		}
	case strings.HasPrefix(key, "file:"):
		var f domain.FileRecord
		if json.Unmarshal(val, &f) == nil {
			row.Kind, row.Entity = "FILE", f.ID
			row.Detail = fmt.Sprintf("%s (%s, %d bytes)", f.OriginalName, f.MimeType, f.Size)
		}
	}

	if len(row.Entity) > 8 {
		row.Entity = row.Entity[:8]
	}
	if r := []rune(row.Detail); len(r) > maxDetailLength {
		row.Detail = string(r[:maxDetailLength]) + "…"
	}
	return row
}
