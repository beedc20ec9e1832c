package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/flightlog/internal/config"
	"github.com/tomasbasham/flightlog/internal/flash"
	"github.com/tomasbasham/flightlog/internal/server"
	"github.com/tomasbasham/flightlog/internal/storage"
)

const shutdownTimeout = 10 * time.Second

type ServeOptions struct {
	*FlightlogOptions

	cfg            *config.Config
	maxUploadBytes int64

	Port          int
	MaxUploadSize string
	SignedURLTTL  time.Duration
}

var (
	serveLong = templates.LongDesc(`
		Start the flight log upload web form.

		The form accepts a task identifier and a .bin log file and uploads
		the file to logs/TASK_ID.bin in STORAGE_BUCKET.`)

	serveExample = templates.Examples(`
		# Start on the default port
		flightlog serve

		# Start on a custom port, accepting logs of up to 512MiB
		flightlog serve --port 9090 --max-upload-size 512MiB

		# Do not show download links after an upload
		flightlog serve --signed-url-ttl 0`)
)

func NewServeOptions(o *FlightlogOptions) *ServeOptions {
	return &ServeOptions{FlightlogOptions: o}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the flight log upload web form",
		Long:    serveLong,
		Example: serveExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&o.Port, "port", "p", 5000, "Port to listen on")
	cmd.Flags().StringVar(&o.MaxUploadSize, "max-upload-size", units.BytesSize(server.DefaultMaxUploadSize), "Largest accepted log file, e.g. 100MiB")
	cmd.Flags().DurationVar(&o.SignedURLTTL, "signed-url-ttl", storage.DefaultSignedURLTTL, "Lifetime of download links shown after an upload (0 disables)")

	return cmd
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return err
	}
	o.cfg = cfg

	size, err := units.RAMInBytes(o.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("invalid --max-upload-size %q: %w", o.MaxUploadSize, err)
	}
	o.maxUploadBytes = size
	return nil
}

func (o *ServeOptions) Validate() error {
	if err := o.cfg.Validate(config.ServeKeys...); err != nil {
		return err
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("invalid --port %d", o.Port)
	}
	if o.maxUploadBytes <= 0 {
		return fmt.Errorf("--max-upload-size must be positive")
	}
	if o.SignedURLTTL < 0 {
		return fmt.Errorf("--signed-url-ttl must not be negative")
	}
	return nil
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader, err := storage.Open(ctx, o.cfg, o.log)
	if err != nil {
		return fmt.Errorf("failed to initialise %s uploader: %w", o.cfg.Provider, err)
	}
	defer func() {
		if err := storage.Close(uploader); err != nil {
			o.log.WithError(err).Warn("Failed to close uploader")
		}
	}()

	srv := server.New(o.log, uploader, flash.NewMemoryStore(flash.DefaultTTL), server.Options{
		Provider:      o.cfg.Provider,
		MaxUploadSize: o.maxUploadBytes,
		SignedURLTTL:  o.SignedURLTTL,
	})
	httpServer := srv.HTTPServer(fmt.Sprintf(":%d", o.Port))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.log.WithField("addr", httpServer.Addr).WithField("bucket", o.cfg.Bucket).Info("Starting upload form server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		o.log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
