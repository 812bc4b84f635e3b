package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/spf13/cobra"
)

// searchFlags filter the session search when no eid is given
type searchFlags struct {
	subject      string
	lab          string
	dateFrom     string
	dateTo       string
	taskProtocol string
	project      string
}

func (s *searchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.subject, "subject", "", "Subject nickname")
	cmd.Flags().StringVar(&s.lab, "lab", "", "Lab name")
	cmd.Flags().StringVar(&s.dateFrom, "date-from", "", "First session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&s.dateTo, "date-to", "", "Last session date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&s.taskProtocol, "task-protocol", "", "Task protocol substring")
	cmd.Flags().StringVar(&s.project, "project", "", "Project name")
}

func (s *searchFlags) query() alyx.Query {
	return alyx.Query{
		Subject:      s.subject,
		Lab:          s.lab,
		DateFrom:     s.dateFrom,
		DateTo:       s.dateTo,
		TaskProtocol: s.taskProtocol,
		Project:      s.project,
	}
}

// isInteractive is replaced in tests
var isInteractive = internal.IsTerminal

// selectSession picks which discovered session to work on. An explicit
// index wins; a single session needs no choice; otherwise the user is asked
// on a terminal and the call fails elsewhere.
func selectSession(d *metadata.Discoverer, index int, in io.Reader, out io.Writer) (int, error) {
	if index >= 0 {
		if index >= d.Len() {
			return 0, &internal.ConfigError{Field: "index", Err: fmt.Errorf("%d out of range, %d sessions found", index, d.Len())}
		}
		return index, nil
	}
	if d.Len() == 1 {
		return 0, nil
	}
	if !isInteractive() {
		return 0, fmt.Errorf("%d sessions found, pass --index: %w", d.Len(), internal.ErrAmbiguousSession)
	}
	return promptSession(d.EIDs(), in, out)
}

func promptSession(eids []string, in io.Reader, out io.Writer) (int, error) {
	_, _ = fmt.Fprintf(out, "%d sessions found:\n", len(eids))
	for i, eid := range eids {
		_, _ = fmt.Fprintf(out, "  [%d] %s\n", i, eid)
	}
	_, _ = fmt.Fprintf(out, "Select a session index: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return 0, fmt.Errorf("no selection made: %w", internal.ErrAmbiguousSession)
	}
	i, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || i < 0 || i >= len(eids) {
		return 0, &internal.ConfigError{Field: "index", Err: fmt.Errorf("invalid selection %q", strings.TrimSpace(line))}
	}
	return i, nil
}
