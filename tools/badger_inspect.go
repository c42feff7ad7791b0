package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"ghost-chat/internal"
	"ghost-chat/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

// badger_inspect prints the content of a stopped server's store.
// Without -prefix every entity family is printed as its own table.
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "", "Raw key prefix to scan instead of the entity tables")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	if *prefix != "" {
		rows, err := internal.ScanRows(db, *prefix)
		if err != nil {
			log.Fatal("Error while scanning: ", err)
		}
		table := newTable(os.Stdout, "Key", "Kind", "Entity", "Detail")
		for _, r := range rows {
			table.Append([]string{r.Key, r.Kind, r.Entity, r.Detail})
		}
		table.Render()
		return
	}

	store, err := repositories.NewBadgerStore(db, logs.GetLoggerFromLevel(slog.LevelError))
	if err != nil {
		log.Fatal("Error while opening store: ", err)
	}
	snapshot, err := store.Export()
	if err != nil {
		log.Fatal("Error while exporting: ", err)
	}
	printSnapshot(os.Stdout, snapshot)
}

func printSnapshot(w io.Writer, snapshot repositories.Snapshot) {
	fmt.Fprintln(w, "USERS")
	users := newTable(w, "ID", "Username", "Online", "Last seen")
	for _, u := range snapshot.Users {
		users.Append([]string{u.ID, u.Username, strconv.FormatBool(u.IsOnline), u.LastSeen.Format("2006-01-02 15:04:05")})
	}
	users.Render()

	groupIDs := make([]string, 0, len(snapshot.Groups))
	for id := range snapshot.Groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	fmt.Fprintln(w, "\nGROUPS")
	groups := newTable(w, "ID", "Name", "Private", "Members", "Messages")
	for _, id := range groupIDs {
		g := snapshot.Groups[id]
		groups.Append([]string{g.ID, g.Name, strconv.FormatBool(g.IsPrivate), strconv.Itoa(len(g.Members)), strconv.Itoa(len(g.Messages))})
	}
	groups.Render()

	fmt.Fprintln(w, "\nMESSAGES")
	messages := newTable(w, "Group", "ID", "Sender", "Redacted", "Viewed by", "Text")
	for _, id := range groupIDs {
		for _, m := range snapshot.Groups[id].Messages {
			messages.Append([]string{id, m.ID, m.Sender, strconv.FormatBool(m.IsEncrypted), strconv.Itoa(len(m.ViewedBy)), m.Text})
		}
	}
	messages.Render()

	fmt.Fprintln(w, "\nCALLS")
	calls := newTable(w, "ID", "Type", "Group", "Status", "Participants")
	for _, c := range snapshot.Calls {
		calls.Append([]string{c.ID, string(c.Type), c.GroupID, string(c.Status), strconv.Itoa(len(c.Participants))})
	}
	calls.Render()

	fmt.Fprintln(w, "\nFILES")
	files := newTable(w, "ID", "Name", "Type", "Size", "Uploaded by")
	for _, f := range snapshot.Files {
		files.Append([]string{f.ID, f.OriginalName, f.MimeType, strconv.FormatInt(f.Size, 10), f.UploadedBy})
	}
	files.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}
