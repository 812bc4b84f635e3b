package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/export"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/spf13/cobra"
)

var (
	metadataFormat     string
	metadataOut        string
	metadataNoCache    bool
	metadataClearCache bool
	metadataSearch     searchFlags
)

// metadataCmd represents the metadata command
var metadataCmd = &cobra.Command{
	Use:   "metadata [eid...]",
	Short: "Discover and write session metadata documents",
	Long: `Discover which datasets each session offers and write the resulting
metadata documents (yaml, json, md, jsonl).

Without --out the documents are printed. With several sessions each document
is written to "<out stem>_eid_<n><ext>". The yaml and json forms can be edited
and passed to 'alyx2nwb convert --metadata'.

Documents are cached under the configured cache directory and reused while
the session's list of dataset types is unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		exporter, err := export.NewExporter(metadataFormat)
		if err != nil {
			return err
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

		var cm *metadata.CacheManager
		if !metadataNoCache && cfg.Alyx.CacheDir != "" {
			cm = metadata.NewCacheManager(filepath.Join(cfg.Alyx.CacheDir, "documents"))
			if metadataClearCache {
				if err := cm.ClearCache(); err != nil {
					internal.LogWarn("Failed to clear cache: %v", err)
				} else {
					internal.LogInfo("Cache cleared")
				}
			}
		}

		var d *metadata.Discoverer
		var docs []*metadata.Document
		err = internal.ShowProgressWithSteps(ctx, []internal.ProgressStep{
			{Message: "Discovering session metadata", Fn: func() error {
				var derr error
				d, derr = metadata.NewDiscoverer(ctx, client, args, metadataSearch.query())
				return derr
			}},
			{Message: "Building metadata documents", Fn: func() error {
				docs = metadata.CachedDocuments(d, cm, cfg.Alyx.BaseURL)
				return nil
			}},
		})
		if err != nil {
			return err
		}

		if metadataOut == "" {
			for _, doc := range docs {
				if err := exporter.Export(doc, cmd.OutOrStdout()); err != nil {
					return &internal.ExportError{Format: metadataFormat, Path: "stdout", Err: err}
				}
			}
			return nil
		}

		out := metadataOut
		if filepath.Ext(out) == "" {
			out += "." + exporter.Extension()
		}
		for i, doc := range docs {
			path := out
			if len(docs) > 1 {
				path = metadata.IndexedPath(out, i)
			}
			if err := exportFile(exporter, doc, path); err != nil {
				return err
			}
			internal.PrintSuccess(fmt.Sprintf("Wrote %s (%s)", path, strings.Join(doc.Sections(), ", ")))
		}
		return nil
	},
}

func exportFile(exporter export.Exporter, doc *metadata.Document, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
	}
	if err := exporter.Export(doc, f); err != nil {
		f.Close()
		return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(metadataCmd)
	metadataCmd.Flags().StringVarP(&metadataFormat, "format", "f", "yaml", "Output format: yaml, json, md, jsonl")
	metadataCmd.Flags().StringVarP(&metadataOut, "out", "o", "", "Output file (default stdout)")
	metadataCmd.Flags().BoolVar(&metadataNoCache, "no-cache", false, "Always rediscover instead of reading cached documents")
	metadataCmd.Flags().BoolVar(&metadataClearCache, "clear-cache", false, "Clear cached documents before discovering")
	metadataSearch.register(metadataCmd)
}
