package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/iblconvert/alyx2nwb/internal/sorting"
	"github.com/spf13/cobra"
)

var (
	sortingUnit  int
	sortingStart int64
	sortingEnd   int64
)

// sortingCmd represents the sorting command
var sortingCmd = &cobra.Command{
	Use:   "sorting <eid>",
	Short: "Show the spike sorting of a session",
	Long: `Load the spike sorting of every probe and print the number of units
per probe. Units are numbered across probes in probe order.

With --unit the spike train of one unit is printed as frames of the
30 kHz sorting clock, optionally limited to [--start, --end).`,
	Args: cobra.ExactArgs(1),
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

		d, err := metadata.NewDiscoverer(ctx, client, args, alyx.Query{})
		if err != nil {
			return err
		}
		doc, err := d.Document(0)
		if err != nil {
			return err
		}
		probes := make([]string, len(doc.Probes))
		for i, p := range doc.Probes {
			probes[i] = p.Name
		}

		sess := dataset.NewSessionContext(client, doc.EID, dataset.Options{Probes: len(probes)})
		// the cluster table fixes the unit count of probes whose last units never fired
		sess.LoadPerProbe(ctx, "clusters.channels")
		s, err := sorting.Load(ctx, sess, probes)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if sortingUnit >= 0 {
			frames, err := s.SpikeTrain(sortingUnit, sortingStart, sortingEnd)
			if err != nil {
				return err
			}
			probe, _ := s.Probe(sortingUnit)
			_, _ = fmt.Fprintf(out, "unit %d (%s): %d spikes\n", sortingUnit, probe, len(frames))
			for _, f := range frames {
				_, _ = fmt.Fprintln(out, f)
			}
			return nil
		}

		counts := s.UnitCounts()
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		total := 0
		_, _ = fmt.Fprintln(w, "Probe\tUnits\t")
		for _, p := range s.Probes() {
			_, _ = fmt.Fprintf(w, "%s\t%d\t\n", p, counts[p])
			total += counts[p]
		}
		_, _ = fmt.Fprintf(w, "total\t%d\t(%d with spikes)\n", total, len(s.UnitIDs()))
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sortingCmd)
	sortingCmd.Flags().IntVar(&sortingUnit, "unit", -1, "Print the spike train of this unit")
	sortingCmd.Flags().Int64Var(&sortingStart, "start", sorting.NoLimit, "First frame (inclusive)")
	sortingCmd.Flags().Int64Var(&sortingEnd, "end", sorting.NoLimit, "Last frame (exclusive)")
}
