package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/spf13/cobra"
)

var (
	listSearch searchFlags
	listLimit  int
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	labStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)
)

// sessionRow is one line of the session table
type sessionRow struct {
	EID      string
	Subject  string
	Lab      string
	Start    time.Time
	Protocol string
	Datasets int
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Search sessions",
	Long: `Search the database for sessions matching the filters and print them
with their subject, lab, start time and number of datasets.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		client, closeClient, err := openClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeClient(); err != nil {
				internal.LogWarn("Failed to close database client: %v", err)
			}
		}()

		eids, err := client.Search(ctx, listSearch.query())
		if err != nil {
			return err
		}
		if listLimit > 0 && len(eids) > listLimit {
			eids = eids[:listLimit]
		}

		rows := make([]sessionRow, 0, len(eids))
		for _, eid := range eids {
			row, err := describeSession(ctx, client, eid)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		displaySessions(cmd.OutOrStdout(), rows)
		return nil
	},
}

func describeSession(ctx context.Context, client alyx.Client, eid string) (sessionRow, error) {
	row := sessionRow{EID: eid}
	resp, err := client.Rest(ctx, "sessions/"+eid, "list")
	if err != nil {
		return row, err
	}
	if rec := resp.One; rec != nil {
		row.Subject = rec.String("subject")
		row.Lab = rec.String("lab")
		row.Protocol = rec.String("task_protocol")
		if start, err := dataset.ParseSessionStart(rec.String("start_time")); err == nil {
			row.Start = start
		}
	}
	types, err := client.List(ctx, eid, alyx.CategoryDatasetType)
	if err != nil {
		internal.LogDebug("no dataset list for %s: %v", eid, err)
	}
	row.Datasets = len(types)
	return row, nil
}

func displaySessions(out io.Writer, rows []sessionRow) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(out, headerStyle.Render("No sessions found"))
		return
	}

	_, _ = fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(rows))))
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("EID")+"\t"+titleStyle.Render("Subject")+"\t"+titleStyle.Render("Lab")+"\t"+
		titleStyle.Render("Started")+"\t"+titleStyle.Render("Datasets")+"\t"+titleStyle.Render("Protocol")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 100))

	for _, r := range rows {
		started := dateStyle.Render("—")
		if !r.Start.IsZero() {
			started = dateStyle.Render(r.Start.Format("2006-01-02 15:04") + " (" + humanize.Time(r.Start) + ")")
		}
		protocol := r.Protocol
		if len(protocol) > 40 {
			protocol = protocol[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(r.EID), r.Subject, labStyle.Render(r.Lab), started,
			countStyle.Render(strconv.Itoa(r.Datasets)), protocol)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(listCmd)
	listSearch.register(listCmd)
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Show at most this many sessions")
}
