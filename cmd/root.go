package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	logFile    string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"

	// cfg is loaded before every command runs
	cfg internal.Config

	// openClient is replaced in tests
	openClient = defaultClient
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "alyx2nwb",
	Short: "Convert IBL sessions from Alyx into NWB files",
	Long: `Convert neurophysiology sessions recorded in an Alyx database into
Neurodata Without Borders containers.

The conversion runs in two steps. Metadata discovery inspects which datasets
a session offers and maps them onto the sections of the output file. The
conversion then loads every mapped dataset and writes the file. Documents
produced by discovery can be saved, edited and fed back into a conversion.

Quick Start:
  alyx2nwb list --subject KS023                # Find sessions
  alyx2nwb metadata <eid> --out meta.yaml       # Inspect the mapping
  alyx2nwb convert <eid> --out ./nwb            # Convert one session
  alyx2nwb convert --metadata meta.yaml         # Convert from an edited document

Sessions are read from the Alyx REST API, or from an offline SQL catalog when
[catalog] dsn is set in the configuration file.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		internal.SetVerbose(verbose)
		loaded, err := internal.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if logFile != "" {
			cfg.Logging.Logfile = logFile
		}
		internal.SetLogFile(cfg.Logging)
		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		internal.PrintError(fmt.Sprintf("Error: %v", err))
		os.Exit(1)
	}
}

// defaultClient opens the SQL catalog when one is configured, the REST API otherwise
func defaultClient(ctx context.Context, c internal.Config) (alyx.Client, func() error, error) {
	if c.Catalog.DSN != "" {
		cat, err := alyx.OpenCatalog(ctx, c.Catalog.Driver, c.Catalog.DSN, "")
		if err != nil {
			return nil, nil, err
		}
		internal.LogDebug("using %s catalog", c.Catalog.Driver)
		return cat, cat.Close, nil
	}
	rest, err := alyx.NewRESTClient(alyx.RESTConfig{
		BaseURL:  c.Alyx.BaseURL,
		Username: c.Alyx.Username,
		Password: c.Alyx.Password,
		Token:    c.Alyx.Token,
		CacheDir: c.Alyx.CacheDir,
	})
	if err != nil {
		return nil, nil, err
	}
	return rest, func() error { return nil }, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default ~/"+internal.DefaultConfigName+")")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a rotating file instead of stderr")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
