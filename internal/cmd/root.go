package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Upload the most recent flight log to object storage.

		The newest .bin file in LOGS_DIR is uploaded to the bucket named by
		STORAGE_BUCKET under logs/TASK_ID.bin. Settings are read from the
		environment and from an optional dotenv file.`)

	rootExamples = templates.Examples(`
		# Upload the latest log using settings from ./.env
		flightlog

		# Also search removable media for flight-controller SD cards
		flightlog --discover-mounts

		# Use a different settings file with verbose logging
		flightlog --env-file /etc/flightlog.env --log-level debug`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// FlightlogOptions defines the options shared by every `flightlog` command.
type FlightlogOptions struct {
	EnvFile  string
	LogLevel string

	log *logrus.Logger
	fs  afero.Fs

	iooption.IOStreams
}

// NewFlightlogOptions provides an initialised FlightlogOptions instance.
// Log output is written to the error stream.
func NewFlightlogOptions(streams iooption.IOStreams) *FlightlogOptions {
	log := logrus.New()
	log.SetOutput(streams.ErrOut)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &FlightlogOptions{
		log:       log,
		fs:        afero.NewOsFs(),
		IOStreams: streams,
	}
}

// NewRootCommand creates the `flightlog` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewFlightlogOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `flightlog` command and its nested
// children. Run without a subcommand it performs a single upload.
func NewRootCommandWithArgs(o *FlightlogOptions) *cobra.Command {
	upload := NewUploadOptions(o)

	cmd := &cobra.Command{
		Use:                   "flightlog",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Upload flight logs to object storage",
		Long:                  rootLong,
		Example:               rootExamples,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.Complete()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := upload.Validate(); err != nil {
				return err
			}
			if err := upload.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	pflags := cmd.PersistentFlags()
	pflags.StringVar(&o.EnvFile, "env-file", ".env", "Dotenv file to read settings from; ignored if missing")
	pflags.StringVar(&o.LogLevel, "log-level", "info", "Log level ("+strings.Join(logLevels(), ", ")+")")

	cmd.Flags().BoolVar(&upload.DiscoverMounts, "discover-mounts", false, "Also search mounted flight-controller volumes for logs")

	cmd.AddCommand(NewServeCommand(NewServeOptions(o)))

	// Flag name normalisation is installed by cliruntime.Run.
	return cmd
}

// Complete configures the logger from the parsed flags.
func (o *FlightlogOptions) Complete() error {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.LogLevel, err)
	}
	o.log.SetLevel(level)
	return nil
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}
