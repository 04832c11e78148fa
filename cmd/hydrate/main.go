// Package main provides a one-shot CLI that hydrates a script file against
// the configured synthesis and alignment services.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/maauso/scenepartner-api/internal/bootstrap"
	"github.com/maauso/scenepartner-api/internal/config"
	"github.com/maauso/scenepartner-api/internal/hydration"
	"github.com/maauso/scenepartner-api/internal/script"
)

var (
	errDuplicateIndex = errors.New("duplicate line index")
	// errPartial is returned after the lines are written when some of them
	// still have no audio.
	errPartial = errors.New("some lines need a retry")
)

type options struct {
	scriptPath    string
	userID        string
	scriptID      string
	userCharacter string
	voices        map[string]string
	force         bool
	retryLine     int
	outPath       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "hydrate",
		Short:        "Attach synthesized audio to the lines of a script",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scriptPath, "script", "", "path to a JSON array of lines (- for stdin)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "user ID owning the script")
	cmd.Flags().StringVar(&opts.scriptID, "script-id", "", "script ID used for storage keys")
	cmd.Flags().StringVar(&opts.userCharacter, "character", "", "character read by the user; their lines get no audio")
	cmd.Flags().StringToStringVar(&opts.voices, "voice", nil, "CHARACTER=VOICE_ID mapping, repeatable")
	cmd.Flags().BoolVar(&opts.force, "force", false, "re-hydrate lines that already have audio")
	cmd.Flags().IntVar(&opts.retryLine, "retry-line", -1, "re-hydrate only this line index")
	cmd.Flags().StringVarP(&opts.outPath, "out", "o", "-", "where to write the updated lines (- for stdout)")
	_ = cmd.MarkFlagRequired("script")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("script-id")

	return cmd
}

func execute(cmd *cobra.Command, opts *options) error {
	lines, err := loadLines(cmd.InOrStdin(), opts.scriptPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := hydration.Request{
		Key:           script.Key{UserID: opts.userID, ScriptID: opts.scriptID},
		Lines:         lines,
		UserCharacter: opts.userCharacter,
		Voices:        opts.voices,
		Force:         opts.force,
	}
	obs := &progressPrinter{w: cmd.ErrOrStderr(), logger: logger}

	var res *hydration.Result
	if opts.retryLine >= 0 {
		res, err = deps.Hydration.RetryLine(ctx, req, opts.retryLine, obs)
	} else {
		res, err = deps.Hydration.Hydrate(ctx, req, obs)
	}
	return report(cmd, opts.outPath, res, err)
}

// report writes the result lines and a summary. A run that left lines
// without audio yields errPartial so the exit status reflects it.
func report(cmd *cobra.Command, outPath string, res *hydration.Result, err error) error {
	if res == nil {
		return err
	}
	n, werr := writeLines(cmd.OutOrStdout(), outPath, res.Lines)
	if werr != nil {
		return werr
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "outcome: %s, failed lines: %v, wrote %s\n",
		res.Outcome(), res.FailedLines, humanize.Bytes(uint64(n)))

	if err != nil {
		return err
	}
	if !res.Succeeded {
		return fmt.Errorf("%w: lines %v", errPartial, res.FailedLines)
	}
	return nil
}

// loadLines reads and validates a JSON array of lines from path.
func loadLines(stdin io.Reader, path string) ([]script.Line, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		r = f
	}

	var lines []script.Line
	if err := json.NewDecoder(r).Decode(&lines); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}

	v := validator.New()
	seen := make(map[int]bool, len(lines))
	for _, l := range lines {
		if err := v.Struct(l); err != nil {
			return nil, fmt.Errorf("line %d: %w", l.Index, err)
		}
		if seen[l.Index] {
			return nil, fmt.Errorf("%w: %d", errDuplicateIndex, l.Index)
		}
		seen[l.Index] = true
	}
	slices.SortFunc(lines, func(a, b script.Line) int { return a.Index - b.Index })
	return lines, nil
}

// writeLines writes lines as indented JSON and returns the byte count.
func writeLines(stdout io.Writer, path string, lines []script.Line) (int, error) {
	data, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode lines: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		return stdout.Write(data)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("write lines: %w", err)
	}
	return len(data), nil
}

// progressPrinter reports hydration events on the terminal.
type progressPrinter struct {
	w      io.Writer
	logger *slog.Logger
	last   int
}

func (p *progressPrinter) OnStatus(lineIndex int, status script.HydrationStatus) {
	p.logger.Debug("line status",
		slog.Int("line_index", lineIndex),
		slog.String("status", string(status)),
	)
}

func (p *progressPrinter) OnProgress(percent int) {
	if percent == p.last {
		return
	}
	p.last = percent
	fmt.Fprintf(p.w, "progress: %d%%\n", percent)
}

func (p *progressPrinter) OnStageMessage(msg string) {
	fmt.Fprintln(p.w, msg)
}

// Compile-time check that progressPrinter implements hydration.Observer.
var _ hydration.Observer = (*progressPrinter)(nil)
