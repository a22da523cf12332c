package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/config"
	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/internal/store"
)

var (
	processPortal       string
	processTenant       string
	processMaxJobs      int
	processTemplate     string
	processTemplateName string
	processDryRun       bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Work pending contact jobs for one portal",
	Long: `process pulls pending jobs for a portal, claims them, and works them one
at a time through a real browser: open the listing, reveal the seller phone,
send the message template. It stops at the daily contact cap and paces
itself between jobs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p, ok := model.ParsePortal(processPortal)
		if !ok {
			return eris.Errorf("unknown portal %q", processPortal)
		}

		env, err := initAutomation(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		auto := env.Registry.Get(p)
		if auto == nil {
			return eris.Errorf("no automation registered for portal %s", p)
		}
		if err := cfg.Validate(auto.Profile()); err != nil {
			return err
		}

		tenant := processTenant
		if tenant == "" {
			tenant = cfg.Contact.Tenant
		}

		limit := batchLimit(processMaxJobs, cfg.Contact.MaxPerDay)
		jobs, err := env.Store.PendingJobs(ctx, tenant, p, limit)
		if err != nil {
			return eris.Wrap(err, "fetch pending jobs")
		}
		if len(jobs) == 0 {
			zap.L().Info("no pending jobs", zap.String("tenant", tenant), zap.String("portal", string(p)))
			return nil
		}

		if processDryRun {
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			formatJobsList(os.Stdout, jobs)
			return nil
		}

		message, err := resolveMessage(env.Templates, processTemplate, processTemplateName, p)
		if err != nil {
			return err
		}

		claimed := claimBatch(ctx, env.Store, jobs)
		if len(claimed) == 0 {
			zap.L().Info("no jobs claimed", zap.String("tenant", tenant), zap.String("portal", string(p)))
			return nil
		}

		eng := env.newEngine(auto, tenant)
		defer func() { _ = eng.Close() }()

		// Results persist even when the run is interrupted, so the queue
		// reflects work that actually happened.
		persistCtx := context.WithoutCancel(ctx)

		processed := make(map[string]bool, len(claimed))
		sink := func(job model.ContactJob, res model.ContactResult) {
			processed[job.ID] = true
			if err := env.Store.FinishJob(persistCtx, job.ID, res); err != nil {
				zap.L().Error("persist job result",
					zap.String("job_id", job.ID),
					zap.Error(err))
			}
		}

		summary := eng.ContactBatch(ctx, claimed, message, len(claimed), sink)

		if n := finishAborted(persistCtx, env.Store, claimed, processed); n > 0 {
			zap.L().Warn("requeueable jobs aborted before processing", zap.Int("count", n))
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
		} else {
			formatRunSummary(os.Stdout, summary)
		}

		if alerts := env.Alerter.Evaluate(summary); len(alerts) > 0 {
			sent := env.Alerter.SendAlerts(persistCtx, alerts)
			zap.L().Info("alerts dispatched", zap.Int("sent", sent), zap.Int("total", len(alerts)))
		}

		if summary.Failed > 0 {
			return eris.Errorf("%d of %d jobs failed", summary.Failed, summary.Processed)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processPortal, "portal", "", "portal to process (casalia, hogarix, pisea, ventora)")
	processCmd.Flags().StringVar(&processTenant, "tenant", "", "tenant to process jobs for (defaults to contact.tenant)")
	processCmd.Flags().IntVar(&processMaxJobs, "max-jobs", 0, "cap on jobs this run (0 uses contact.max_per_day)")
	processCmd.Flags().StringVar(&processTemplate, "template", "", "inline message template, overrides the templates file")
	processCmd.Flags().StringVar(&processTemplateName, "template-name", "", "named template from the templates file")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "list the batch without claiming or contacting")
	_ = processCmd.MarkFlagRequired("portal")
	rootCmd.AddCommand(processCmd)
}

// batchLimit bounds one run's batch. The daily cap always applies; --max-jobs
// can only tighten it.
func batchLimit(maxJobs, maxPerDay int) int {
	if maxPerDay <= 0 {
		maxPerDay = 1
	}
	if maxJobs > 0 && maxJobs < maxPerDay {
		return maxJobs
	}
	return maxPerDay
}

// resolveMessage picks the message template for a run. Inline text wins over
// the templates file.
func resolveMessage(t *config.Templates, inline, name string, p model.Portal) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if t == nil {
		return "", eris.New("no message template: pass --template or set contact.templates_path")
	}
	return t.Resolve(name, p)
}

// claimBatch marks jobs in progress before the engine touches them. Jobs
// another runner grabbed first are dropped from the batch.
func claimBatch(ctx context.Context, st store.Store, jobs []model.ContactJob) []model.ContactJob {
	claimed := make([]model.ContactJob, 0, len(jobs))
	for _, job := range jobs {
		if err := st.ClaimJob(ctx, job.ID); err != nil {
			zap.L().Warn("claim job",
				zap.String("job_id", job.ID),
				zap.Error(err))
			continue
		}
		claimed = append(claimed, job)
	}
	return claimed
}

// finishAborted fails claimed jobs the run never reached, so an interrupted
// batch leaves nothing stuck in progress. Returns how many were closed out.
func finishAborted(ctx context.Context, st store.Store, claimed []model.ContactJob, processed map[string]bool) int {
	n := 0
	for _, job := range claimed {
		if processed[job.ID] {
			continue
		}
		res := model.ContactResult{
			LeadID:  job.LeadID,
			Portal:  job.Portal,
			Success: false,
			Error:   "automation_failed: run aborted before job started",
		}
		if err := st.FinishJob(ctx, job.ID, res); err != nil {
			zap.L().Error("close out aborted job",
				zap.String("job_id", job.ID),
				zap.Error(err))
			continue
		}
		n++
	}
	return n
}

func formatRunSummary(out io.Writer, s model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Tenant:\t%s\n", s.Tenant)
	fmt.Fprintf(w, "Portal:\t%s\n", s.Portal)
	fmt.Fprintf(w, "Processed:\t%d\n", s.Processed)
	fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(w, "Phones found:\t%d\n", s.PhonesFound)
	fmt.Fprintf(w, "Messages sent:\t%d\n", s.MessagesSent)
	fmt.Fprintf(w, "Solve spend:\t$%.4f\n", s.SolveSpendUSD)
	fmt.Fprintf(w, "Duration:\t%s\n", s.Duration.Round(time.Millisecond))
}
