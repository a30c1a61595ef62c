package ui

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/loader"
	"github.com/majorcontext/portage/internal/session"
)

// Section prints a bold title with a thin underline.
func Section(title string) {
	fmt.Fprintln(out, Bold(title))
	fmt.Fprintln(out, Dim(strings.Repeat("─", len([]rune(title)))))
}

// Groups prints records grouped by type, one table per group.
func Groups(groups []loader.Group) {
	if len(groups) == 0 {
		fmt.Fprintln(out, Dim("No records."))
		return
	}
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(out)
		}
		Section(fmt.Sprintf("%s (%d)", g.Type, len(g.Records)))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tID\tURL\tCREATED\tMODIFIED")
		for _, r := range g.Records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				orDash(r.Name), r.ID, orDash(r.URL),
				orDash(shortTime(r.CreationTime)), orDash(shortTime(r.LastModifiedTime)))
		}
		w.Flush()
	}
}

// Status prints a session snapshot.
func Status(st session.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "User:\t%s\n", st.Identity.User)
	fmt.Fprintf(w, "Org:\t%s\n", st.Identity.Org)

	active := Dim("none")
	if st.Active != "" {
		active = st.Active.DisplayName()
		if !st.HasActive {
			active += " " + Yellow("(no credential)")
		}
	}
	fmt.Fprintf(w, "Platform:\t%s\n", active)

	loaded := Dim("nothing loaded")
	if st.LoadedFrom != "" {
		loaded = fmt.Sprintf("%d records from %s", st.Loaded, st.LoadedFrom.DisplayName())
		if !st.LoadedAt.IsZero() {
			loaded += " " + Dim("("+Ago(st.LoadedAt)+")")
		}
	}
	fmt.Fprintf(w, "Loaded:\t%s\n", loaded)

	connected := Dim("none")
	if len(st.Connected) > 0 {
		names := make([]string, len(st.Connected))
		for i, p := range st.Connected {
			names[i] = p.DisplayName()
		}
		connected = strings.Join(names, ", ")
	}
	fmt.Fprintf(w, "Connected:\t%s\n", connected)

	if len(st.Connecting) > 0 {
		names := make([]string, len(st.Connecting))
		for i, p := range st.Connecting {
			names[i] = p.DisplayName()
		}
		fmt.Fprintf(w, "Connecting:\t%s\n", Yellow(strings.Join(names, ", ")))
	}
	w.Flush()
}

// Events prints journal entries as a table.
func Events(events []*audit.Event) {
	if len(events) == 0 {
		fmt.Fprintln(out, Dim("No journal entries."))
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tKIND\tPLATFORM\tOUTCOME\tSTATUS\tMESSAGE")
	for _, ev := range events {
		outcome := OKTag() + " ok"
		if ev.Outcome == audit.OutcomeFailed {
			outcome = FailTag() + " failed"
		}
		plat := ev.Platform
		if ev.Target != "" {
			plat += " → " + ev.Target
		}
		status := "-"
		if ev.Status != 0 {
			status = fmt.Sprint(ev.Status)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Seq, ev.Time.Local().Format(time.DateTime), ev.Kind, plat, outcome, status, orDash(ev.Message))
	}
	w.Flush()
}

// Ago renders t relative to now, e.g. "3 minutes ago". Times older than a
// week are printed as a date.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func shortTime(ts loader.Timestamp) string {
	if ts.Time.IsZero() {
		return ts.Raw
	}
	return ts.Time.Local().Format(time.DateTime)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
