// Package analyze implements the analyze command, which runs one subject
// per video file against the analysis service and prints the verdicts.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/faunavision/faunavision-go/internal/analyzer"
	"github.com/faunavision/faunavision-go/internal/conf"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
	"github.com/faunavision/faunavision-go/internal/orchestrator"
	"github.com/faunavision/faunavision-go/internal/subject"
)

// Options are the command line inputs shared by every video.
type Options struct {
	Parameters model.Parameters
	JSON       bool
	// Parallel caps concurrent uploads; zero means one per video
	Parallel int
}

// Command creates the analyze command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "analyze VIDEO...",
		Short: "Analyze one or more videos",
		Long: `Create one subject per video, describe each with the shared parameters and
submit them to the analysis service at the same time. The command waits for
every verdict and prints them as a table, or as JSON with --json.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := analyzer.New(analyzer.Config{
				BaseURL:   settings.Analysis.URL,
				Timeout:   settings.Analysis.Timeout,
				UserAgent: settings.Analysis.UserAgent,
			}, logger.Global().Module("analyzer"))
			if err != nil {
				return err
			}
			defer client.Close()

			return Run(ctx, client, args, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Parameters.Species, "species", "", "Animal species (required)")
	cmd.Flags().StringVar(&opts.Parameters.Age, "age", "", "Animal age")
	cmd.Flags().StringVar(&opts.Parameters.Diet, "diet", "", "Animal diet")
	cmd.Flags().StringVar(&opts.Parameters.HealthConditions, "conditions", "", "Known health conditions")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print subjects as JSON")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 0, "Maximum concurrent analyses (0 = all at once)")
	return cmd
}

// Report is the outcome for one video.
type Report struct {
	Video   string        `json:"video"`
	Subject model.Subject `json:"subject"`
	// Error explains why the subject was never submitted
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether the service returned a verdict.
func (r Report) Succeeded() bool {
	return r.Subject.Status == model.StatusSucceeded && r.Subject.Result != nil
}

// Run analyzes every video with a, writes the report to out and returns an
// error when any subject did not succeed.
func Run(ctx context.Context, a subject.Analyzer, videos []string, opts Options, out io.Writer) error {
	reports, err := Analyze(ctx, a, videos, opts)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, renderTable(reports))
	}

	failed := 0
	for _, r := range reports {
		if !r.Succeeded() {
			failed++
		}
	}
	if failed > 0 {
		return errors.Newf("%d of %d analyses did not succeed", failed, len(reports)).
			Component("analyze").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Analyze submits one subject per video concurrently and waits for all of
// them. Only cancellation of ctx is returned as an error; per-video problems
// are part of the reports.
func Analyze(ctx context.Context, a subject.Analyzer, videos []string, opts Options) ([]Report, error) {
	log := logger.Global().Module("analyze")
	orch := orchestrator.New(a, nil, orchestrator.WithLogger(logger.Global().Module("orchestrator")))
	defer func() { _ = orch.Shutdown(context.WithoutCancel(ctx)) }()

	reports := make([]Report, len(videos))
	ids := make([]int, len(videos))
	for i, path := range videos {
		ids[i] = orch.AddSubject().ID
		reports[i].Video = path
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}
	for i, path := range videos {
		g.Go(func() error {
			// a rejected subject does not stop the others
			if err := prepare(orch, ids[i], path, opts.Parameters); err != nil {
				log.Debug("subject not submitted", logger.Int("subject_id", ids[i]), logger.Error(err))
				reports[i].Error = err.Error()
				return nil
			}
			return orch.Wait(gctx, ids[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		s, err := orch.Subject(id)
		if err != nil {
			return nil, err
		}
		reports[i].Subject = s
	}
	return reports, nil
}

// prepare sets the parameters and video of subject id and submits it. An
// unreadable file is reported together with the submission error it causes.
func prepare(orch *orchestrator.Orchestrator, id int, path string, params model.Parameters) error {
	for _, f := range model.ParameterFields {
		if v := params.Get(f); v != "" {
			if err := orch.SetParameter(id, f, v); err != nil {
				return err
			}
		}
	}

	video, err := model.NewFileAttachment(path)
	if err == nil {
		err = orch.SetVideo(id, video)
	}
	if submitErr := orch.Submit(id); submitErr != nil {
		return errors.Join(err, submitErr)
	}
	return err
}

func renderTable(reports []Report) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Subject", "Video", "Size", "Status", "Health", "Confidence", "Behavior / Error"})

	for _, r := range reports {
		s := r.Subject
		size := "-"
		if s.Video != nil {
			size = humanize.Bytes(uint64(max(s.Video.Size, 0)))
		}
		health, confidence, detail := "-", "-", r.Error
		switch {
		case r.Succeeded():
			health = string(s.Result.HealthVerdict())
			confidence = strconv.FormatFloat(s.Result.Confidence*100, 'f', 0, 64) + "%"
			detail = s.Result.BehaviorObserved
		case s.LastError != nil:
			detail = s.LastError.Message
		}
		tw.AppendRow(table.Row{s.DisplayName, r.Video, size, s.Status.String(), health, confidence, truncate(detail, 60)})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 6, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func truncate(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
