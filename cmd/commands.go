package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"archivist/config"
	"archivist/handlers"
	"archivist/services"
	"archivist/types"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// Runner holds the loaded configuration and provides the action of each
// command
type Runner struct {
	config *config.Config
	logger *log.Logger
	output io.Writer
}

// NewApp builds the archivist command tree
func NewApp(version string) *cli.Command {
	handlers.Version = version
	r := &Runner{output: os.Stdout}

	return &cli.Command{
		Name:    "archivist",
		Usage:   "Browse, mutate and transfer files inside (nested) ZIP archives",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Before: r.load,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP and WebSocket API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "host", Usage: "Listen host"},
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port"},
				},
				Action: r.Serve,
			},
			{
				Name:      "test",
				Usage:     "Verify every entry of an archive",
				ArgsUsage: "<archive>",
				Action:    r.Test,
			},
			{
				Name:      "compress",
				Usage:     "Create a ZIP archive from files and folders",
				ArgsUsage: "<destination.zip> <source>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "base", Usage: "Folder entry names are made relative to"},
					conflictFlag(),
				},
				Action: r.Compress,
			},
			{
				Name:      "extract",
				Usage:     "Extract an archive, or part of it, into a folder",
				ArgsUsage: "<archive> <destination>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "only", Usage: "Entries to extract (path, folder or file name)"},
					&cli.BoolFlag{Name: "overwrite", Usage: "Overwrite existing files without asking"},
					conflictFlag(),
				},
				Action: r.Extract,
			},
			{
				Name:      "init",
				Usage:     "Write an example configuration file",
				ArgsUsage: "[path]",
				Action:    r.Init,
			},
		},
	}
}

func conflictFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "on-conflict",
		Usage: "Decision applied to every conflict (overwrite_all, skip_all, if_newer, size_differs, smaller_only, no_zero_length)",
		Value: string(types.DecisionSkipAll),
	}
}

// load resolves the configuration and the root logger before any command
func (r *Runner) load(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	r.config = cfg
	r.logger = config.NewLogger(cfg.Log, os.Stderr)
	return ctx, nil
}

func (r *Runner) writePlainln(format string, args ...any) {
	fmt.Fprintf(r.output, format+"\n", args...)
}

// Serve runs the API until interrupted
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if host := cmd.String("host"); host != "" {
		r.config.Server.Host = host
	}
	if port := int(cmd.Int("port")); port > 0 {
		r.config.Server.Port = port
	}
	return StartWebServer(ctx, r.config, r.logger)
}

// Test checks an archive and fails when any entry is damaged
func (r *Runner) Test(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return fmt.Errorf("%w: expected one archive", types.ErrInvalidRequest)
	}
	source, err := filepath.Abs(cmd.Args().First())
	if err != nil {
		return err
	}

	job, err := r.runLocal(ctx, services.ArchiveTestParams{ArchiveTestRequest: types.ArchiveTestRequest{Source: source}}, types.DecisionSkipAll)
	if err != nil {
		return err
	}

	res := job.Result.(*types.ArchiveTestResult)
	if res.GeneralError != "" {
		return fmt.Errorf("%w: %s", types.ErrArchiveCorrupt, res.GeneralError)
	}
	for _, f := range res.Failures {
		r.writePlainln("✗ %s: %s", f.Entry, f.Message)
	}
	if !res.Passed {
		return fmt.Errorf("%d of %d entries failed", len(res.Failures), res.TotalFiles)
	}
	r.writePlainln("✓ %s: %d entries OK", res.Archive, res.TestedFiles)
	return nil
}

// Compress packs the sources into a new archive
func (r *Runner) Compress(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) < 2 {
		return fmt.Errorf("%w: expected a destination and at least one source", types.ErrInvalidRequest)
	}
	abs, err := absAll(args)
	if err != nil {
		return err
	}
	policy, err := types.ParseDecision(cmd.String("on-conflict"))
	if err != nil {
		return err
	}

	req := types.CompressRequest{Destination: abs[0], Sources: abs[1:]}
	if base := cmd.String("base"); base != "" {
		if req.SourceDirectory, err = filepath.Abs(base); err != nil {
			return err
		}
	}

	job, err := r.runLocal(ctx, services.CompressParams{CompressRequest: req}, policy)
	if err != nil {
		return err
	}

	res := job.Result.(*types.CompressResult)
	if res.Skipped {
		r.writePlainln("- %s exists, skipped", res.Archive)
		return nil
	}
	r.writePlainln("✓ %s: %d files, %d folders, %s", res.Archive, res.Files, res.Folders, humanize.Bytes(uint64(res.Bytes)))
	return nil
}

// Extract unpacks an archive or the selected entries
func (r *Runner) Extract(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 2 {
		return fmt.Errorf("%w: expected an archive and a destination", types.ErrInvalidRequest)
	}
	abs, err := absAll(cmd.Args().Slice())
	if err != nil {
		return err
	}
	policy, err := types.ParseDecision(cmd.String("on-conflict"))
	if err != nil {
		return err
	}

	job, err := r.runLocal(ctx, services.DecompressParams{DecompressRequest: types.DecompressRequest{
		Source:         abs[0],
		Destination:    abs[1],
		ItemsToExtract: cmd.StringSlice("only"),
		Overwrite:      cmd.Bool("overwrite"),
	}}, policy)
	if err != nil {
		return err
	}

	res := job.Result.(*types.DecompressResult)
	for _, e := range res.Errors {
		r.writePlainln("✗ %s: %s", e.Path, e.Message)
	}
	r.writePlainln("✓ %s: %d extracted, %d skipped", res.Destination, res.Extracted, res.Skipped)
	return nil
}

// Init writes the example configuration
func (r *Runner) Init(ctx context.Context, cmd *cli.Command) error {
	path := "config.toml"
	if cmd.NArg() > 0 {
		path = cmd.Args().First()
	}
	if err := config.CreateConfigFile(path); err != nil {
		return err
	}
	r.writePlainln("✓ wrote %s", path)
	return nil
}

func absAll(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out[i] = abs
	}
	return out, nil
}
