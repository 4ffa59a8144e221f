// Command repeaterd runs the flat retry-scheduler loop (internal/repeater)
// against due rows in the repeater_tasks table, separate from the
// dispatcher's step-graph. Bootstrap mirrors cmd/dispatcherd's urfave/cli
// shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/urfave/cli"

	"github.com/cryptoladder/engine/internal/config"
	"github.com/cryptoladder/engine/internal/log"
	"github.com/cryptoladder/engine/internal/notify"
	"github.com/cryptoladder/engine/internal/repeater"
	"github.com/cryptoladder/engine/internal/stepstore"
)

var logger = log.New(log.ModuleCmd)

var (
	app = cli.NewApp()

	configFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "path to a TOML config file (unset uses built-in defaults)",
		EnvVar: "REPEATERD_CONFIG",
	}
	intervalFlag = cli.DurationFlag{
		Name:  "interval",
		Usage: "poll interval for due repeater rows",
		Value: defaultInterval,
	}
	batchFlag = cli.IntFlag{
		Name:  "batch-size",
		Usage: "max due rows processed per tick",
		Value: defaultBatchSize,
	}
	archiveBucketFlag = cli.StringFlag{
		Name:   "archive-bucket",
		Usage:  "S3 bucket for the failed-step archive task (unset disables it)",
		EnvVar: "REPEATERD_ARCHIVE_BUCKET",
	}
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 32
)

func init() {
	app.Name = "repeaterd"
	app.Usage = "run the repeater retry-scheduler loop"
	app.Flags = []cli.Flag{configFlag, intervalFlag, batchFlag, archiveBucketFlag}
	app.Action = run
	app.Before = func(c *cli.Context) error {
		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}
	app.After = func(c *cli.Context) error {
		return log.Sync()
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	store, err := openStepStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening step store: %w", err)
	}
	repeaterStore, err := openRepeaterStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening repeater store: %w", err)
	}

	registry := repeater.NewRegistry()
	if bucket := c.String(archiveBucketFlag.Name); bucket != "" {
		sess := session.Must(session.NewSession(aws.NewConfig()))
		archive := notify.NewArchive(sess, bucket, "failed-steps")
		registry.Register(repeater.ArchiveTaskClass, func() repeater.Task {
			return repeater.NewArchiveFailedStep(store, archive)
		})
	}

	processor := repeater.NewProcessor(repeaterStore, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Loop(ctx, c.Duration(intervalFlag.Name), c.Int(batchFlag.Name))
	logger.Info("repeater loop started")

	waitForSignal()
	logger.Info("shutting down")
	return nil
}

func openStepStore(cfg config.StoreConfig) (stepstore.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return stepstore.NewMemoryStore(nil), nil
	case "badger":
		return stepstore.OpenBadgerStore(cfg.DSN)
	default:
		return stepstore.Open(cfg.Driver, cfg.DSN)
	}
}

func openRepeaterStore(cfg config.StoreConfig) (repeater.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return repeater.NewMemoryStore(nil), nil
	default:
		return repeater.OpenGormStore(cfg.Driver, cfg.DSN)
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
