package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/blob"
	"github.com/iblconvert/alyx2nwb/internal/convert"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/iblconvert/alyx2nwb/internal/nwb"
	"github.com/spf13/cobra"
)

var (
	convertOut       string
	convertSaveRaw   bool
	convertIndex     int
	convertMetadata  string
	convertChunkRows int
	convertDryRun    bool
	convertSearch    searchFlags
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert [eid...]",
	Short: "Convert a session into an NWB file",
	Long: `Discover the datasets of a session, convert them and save the NWB file.

Pass session ids, or search filters to find them. When several sessions are
found, --index selects one; on a terminal you are asked otherwise.

With --metadata the mapping is read from a document written by
'alyx2nwb metadata' instead of being discovered.

--out takes a local directory, a file path ending in .nwb, or an
s3://bucket/prefix destination. Remote destinations are written locally
first and uploaded once the file is complete.`,
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

		metrics := internal.NewMetrics()
		opts := convert.Options{
			Client:    client,
			SaveRaw:   convertSaveRaw || cfg.Output.SaveRaw,
			ChunkRows: cfg.Output.ChunkRows,
			Metrics:   metrics,
		}
		if convertChunkRows > 0 {
			opts.ChunkRows = convertChunkRows
		}

		if convertMetadata != "" {
			doc, err := metadata.ReadDocument(convertMetadata)
			if err != nil {
				return err
			}
			if err := metadata.Validate(doc); err != nil {
				return fmt.Errorf("metadata document %s: %w", convertMetadata, err)
			}
			opts.Document = doc
			internal.PrintInfo(fmt.Sprintf("Converting %s from %s", doc.EID, convertMetadata))
		} else {
			var d *metadata.Discoverer
			err := internal.ShowProgress(ctx, "Discovering session metadata...", func() error {
				var derr error
				d, derr = metadata.NewDiscoverer(ctx, client, args, convertSearch.query())
				return derr
			})
			if err != nil {
				return err
			}
			idx, err := selectSession(d, convertIndex, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.Discoverer = d
			opts.Index = idx
		}

		out := convertOut
		if out == "" {
			out = cfg.Output.Dir
		}
		dest, err := blob.ParseDestination(out)
		if err != nil {
			return err
		}

		conv, err := convert.New(opts)
		if err != nil {
			return err
		}
		defer conv.Close()

		if err := internal.ShowProgress(ctx, "Converting session "+conv.Document().EID+"...", func() error {
			return conv.Run(ctx)
		}); err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), conv.Summary())

		if convertDryRun {
			err = dryRun(cmd.OutOrStdout(), conv)
		} else {
			err = save(ctx, cmd.OutOrStdout(), conv, out, dest)
		}
		if err != nil {
			return err
		}

		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			internal.PrintWarning(fmt.Sprintf("metrics not written: %v", err))
		}
		return nil
	},
}

// dryRun lays the file out in memory and reports what would be written
func dryRun(w io.Writer, conv *convert.Converter) error {
	if err := conv.File().Validate(); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp("", "alyx2nwb-dryrun-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	sink := nwb.NewMemorySink()
	manifest, err := conv.File().Layout(sink, tmp, conv.Document().EID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Dry run: %d objects, %d datasets, nothing saved\n", len(manifest.Paths()), len(sink.Names()))
	return nil
}

// save writes the file locally and uploads it when the destination is remote
func save(ctx context.Context, w io.Writer, conv *convert.Converter, out string, dest blob.Destination) error {
	if !dest.Remote() {
		path, err := conv.Write(ctx, dest.Root)
		if err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Saved %s", path))
		return nil
	}

	staging, err := os.MkdirTemp("", "alyx2nwb-*")
	if err != nil {
		return &internal.StorageError{Path: staging, Op: "mkdir", Err: err}
	}
	defer os.RemoveAll(staging)

	path, err := conv.Write(ctx, staging)
	if err != nil {
		return err
	}
	store, _, err := blob.Open(ctx, out, cfg.S3)
	if err != nil {
		return err
	}

	// the container and its chunk sidecars share a stem
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	entries, err := os.ReadDir(staging)
	if err != nil {
		return &internal.StorageError{Path: staging, Op: "read", Err: err}
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), stem) {
			continue
		}
		info, err := blob.Upload(ctx, store, dest.Key(e.Name()), filepath.Join(staging, e.Name()))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "Uploaded %s (%s)\n", info.Key, humanize.Bytes(uint64(info.Size)))
	}
	internal.PrintSuccess(fmt.Sprintf("Saved %s to %s", filepath.Base(path), out))
	return nil
}

func printSummary(w io.Writer, s convert.Summary) {
	_, _ = fmt.Fprintf(w, "Session %s: %d fetches in %s\n", s.EID, s.Fetches, s.Duration.Round(time.Millisecond))
	for _, sec := range s.Sections {
		switch {
		case sec.Skipped:
			_, _ = fmt.Fprintf(w, "  %-12s %s\n", sec.Kind, internal.Muted("skipped"))
		default:
			_, _ = fmt.Fprintf(w, "  %-12s wrote %d", sec.Kind, len(sec.Written))
			if len(sec.Omitted) > 0 {
				_, _ = fmt.Fprintf(w, ", omitted %d %s", len(sec.Omitted), internal.Muted(strings.Join(sec.Omitted, ", ")))
			}
			_, _ = fmt.Fprintln(w)
		}
	}
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "Output directory, .nwb path or s3://bucket/prefix (default from config)")
	convertCmd.Flags().BoolVar(&convertSaveRaw, "save-raw", false, "Include raw ephys and video datasets")
	convertCmd.Flags().IntVar(&convertIndex, "index", -1, "Session to convert when several are found")
	convertCmd.Flags().StringVar(&convertMetadata, "metadata", "", "Metadata document to convert instead of discovering")
	convertCmd.Flags().IntVar(&convertChunkRows, "chunk-rows", 0, "Samples per window when streaming raw series (default from config)")
	convertCmd.Flags().BoolVar(&convertDryRun, "dry-run", false, "Convert in memory without saving")
	convertSearch.register(convertCmd)
}
