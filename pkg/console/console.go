// Package console renders the fishery status for a terminal.
package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/boristopalov/fishery/pkg/config"
	"github.com/boristopalov/fishery/pkg/environment"
)

var (
	title = color.New(color.FgCyan, color.Bold)
	ok    = color.New(color.FgGreen)
	warn  = color.New(color.FgYellow, color.Bold)
)

// Banner prints the addresses of the running services.
func Banner(w io.Writer, cfg config.Config) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w, line)
	title.Fprintln(w, "FISHERY SYSTEM")
	fmt.Fprintln(w, line)
	ok.Fprintf(w, "  owner:           %s\n", cfg.Owner.Address)
	ok.Fprintf(w, "  water caretaker: %s\n", cfg.Water.Address)
	ok.Fprintf(w, "  fish caretaker:  %s\n", cfg.Fish.Address)
	fmt.Fprintf(w, "  capacity %d, daily quota %d, fishermen %d\n",
		cfg.Owner.Capacity, cfg.Owner.QuotaLimit, cfg.Fisherman.Count)
	fmt.Fprintln(w, line)
}

// Status prints the fishery snapshot as two tables: the system counters
// and one row per fisherman.
func Status(w io.Writer, s environment.Status) {
	title.Fprintln(w, "Fishery")
	system := tablewriter.NewWriter(w)
	system.SetHeader([]string{"Metric", "Value"})
	system.SetAlignment(tablewriter.ALIGN_LEFT)
	system.AppendBulk([][]string{
		{"status", s.State.Status},
		{"present", fmt.Sprintf("%d/%d %s", len(s.Owner.Present), s.Owner.Capacity, strings.Join(s.Owner.Present, " "))},
		{"quota", fmt.Sprintf("%d/%d", s.Owner.Taken, s.Owner.Limit)},
		{"water alarms", alarm(s.WaterAlarm)},
		{"aerations", aerations(s.Aerations, s.Aerating)},
		{"stocking alarms", alarm(s.StockAlarm)},
		{"catches registered", strconv.FormatInt(s.Registered, 10)},
		{"average size", fmt.Sprintf("%.1f", s.Catches.AvgSize)},
		{"total mass kg", fmt.Sprintf("%.2f", s.Catches.TotalMass)},
		{"feed supply kg", fmt.Sprintf("%.2f", s.FeedKg)},
		{"feed orders", strconv.Itoa(s.FeedOrders)},
	})
	system.Render()

	if len(s.Fishermen) == 0 {
		return
	}
	title.Fprintln(w, "Fishermen")
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Fisherman", "Admitted", "Attempts", "Kept", "Denied", "Left", "Note"})
	for _, fm := range s.Fishermen {
		r := fm.Result
		note := r.Reason
		if r.TimedOut {
			note = "timed out"
		}
		table.Append([]string{
			fm.Address,
			yesNo(r.Admitted),
			strconv.Itoa(r.Attempts),
			strconv.Itoa(r.Granted),
			strconv.Itoa(r.Denied),
			yesNo(r.Exited),
			note,
		})
	}
	table.Render()
}

func alarm(n int64) string {
	if n == 0 {
		return "0"
	}
	return warn.Sprint(n)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func aerations(n int64, running bool) string {
	if running {
		return fmt.Sprintf("%d (aerating)", n)
	}
	return strconv.FormatInt(n, 10)
}
