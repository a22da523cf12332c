package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage the contact job queue",
}

var (
	jobAddTenant   string
	jobAddLead     string
	jobAddPortal   string
	jobAddURL      string
	jobAddTitle    string
	jobAddMessage  string
	jobAddPriority int
)

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Enqueue a single contact job",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := jobAddTenant
		if tenant == "" {
			tenant = cfg.Contact.Tenant
		}
		job, err := buildJob(tenant, jobAddLead, jobAddPortal, jobAddURL, jobAddTitle, jobAddMessage, jobAddPriority)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		created, err := st.CreateJob(cmd.Context(), job)
		if err != nil {
			return eris.Wrap(err, "create job")
		}

		zap.L().Info("job enqueued",
			zap.String("job_id", created.ID),
			zap.String("lead_id", created.LeadID),
			zap.String("portal", string(created.Portal)))
		fmt.Println(created.ID)
		return nil
	},
}

var (
	jobsListTenant string
	jobsListPortal string
	jobsListState  string
	jobsListLimit  int
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued contact jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := buildJobFilter(jobsListTenant, jobsListPortal, jobsListState, jobsListLimit)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(cmd.Context(), filter)
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		}
		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		job, err := st.GetJob(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrapf(err, "show job %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

var jobsStatsTenant string

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts by state and portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		tenant := jobsStatsTenant
		if tenant == "" {
			tenant = cfg.Contact.Tenant
		}

		stats, err := st.Stats(cmd.Context(), tenant)
		if err != nil {
			return eris.Wrap(err, "queue stats")
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		formatJobStats(os.Stdout, tenant, stats)
		return nil
	},
}

var (
	jobsRetryTenant string
	jobsRetryPortal string
)

var jobsRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Requeue failed jobs as pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		var portal model.Portal
		if jobsRetryPortal != "" {
			p, ok := model.ParsePortal(jobsRetryPortal)
			if !ok {
				return eris.Errorf("unknown portal %q", jobsRetryPortal)
			}
			portal = p
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		tenant := jobsRetryTenant
		if tenant == "" {
			tenant = cfg.Contact.Tenant
		}

		n, err := st.RequeueFailed(cmd.Context(), tenant, portal)
		if err != nil {
			return eris.Wrap(err, "requeue failed jobs")
		}

		zap.L().Info("failed jobs requeued",
			zap.Int("count", n),
			zap.String("tenant", tenant),
			zap.String("portal", jobsRetryPortal))
		fmt.Printf("requeued %d job(s)\n", n)
		return nil
	},
}

func init() {
	jobsAddCmd.Flags().StringVar(&jobAddTenant, "tenant", "", "tenant the job belongs to (defaults to contact.tenant)")
	jobsAddCmd.Flags().StringVar(&jobAddLead, "lead", "", "lead identifier from the acquisition pipeline")
	jobsAddCmd.Flags().StringVar(&jobAddPortal, "portal", "", "portal the listing is on")
	jobsAddCmd.Flags().StringVar(&jobAddURL, "url", "", "listing URL to contact")
	jobsAddCmd.Flags().StringVar(&jobAddTitle, "title", "", "listing title, filled into the message template")
	jobsAddCmd.Flags().StringVar(&jobAddMessage, "message", "", "job-specific message template, overrides the run message")
	jobsAddCmd.Flags().IntVar(&jobAddPriority, "priority", 0, "queue priority, higher first")
	_ = jobsAddCmd.MarkFlagRequired("lead")
	_ = jobsAddCmd.MarkFlagRequired("portal")
	_ = jobsAddCmd.MarkFlagRequired("url")

	jobsListCmd.Flags().StringVar(&jobsListTenant, "tenant", "", "filter by tenant")
	jobsListCmd.Flags().StringVar(&jobsListPortal, "portal", "", "filter by portal")
	jobsListCmd.Flags().StringVar(&jobsListState, "state", "", "filter by state (pending, in_progress, completed, failed)")
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 50, "maximum rows to return")

	jobsStatsCmd.Flags().StringVar(&jobsStatsTenant, "tenant", "", "tenant to aggregate (defaults to contact.tenant)")

	jobsRetryCmd.Flags().StringVar(&jobsRetryTenant, "tenant", "", "tenant to requeue for (defaults to contact.tenant)")
	jobsRetryCmd.Flags().StringVar(&jobsRetryPortal, "portal", "", "only requeue this portal's jobs")

	jobsCmd.AddCommand(jobsAddCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	rootCmd.AddCommand(jobsCmd)
}

// buildJob validates a new job's fields before it is queued.
func buildJob(tenant, lead, portalName, listingURL, title, message string, priority int) (model.ContactJob, error) {
	p, ok := model.ParsePortal(portalName)
	if !ok {
		return model.ContactJob{}, eris.Errorf("unknown portal %q", portalName)
	}
	if lead == "" {
		return model.ContactJob{}, eris.New("lead id is required")
	}
	u, err := url.Parse(listingURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return model.ContactJob{}, eris.Errorf("listing URL %q is not an http(s) URL", listingURL)
	}
	return model.ContactJob{
		TenantID:        tenant,
		LeadID:          lead,
		Portal:          p,
		ListingURL:      listingURL,
		Title:           title,
		MessageTemplate: message,
		Priority:        priority,
	}, nil
}

// buildJobFilter validates list flags into a store filter.
func buildJobFilter(tenant, portalName, state string, limit int) (store.JobFilter, error) {
	filter := store.JobFilter{Tenant: tenant, Limit: limit}
	if portalName != "" {
		p, ok := model.ParsePortal(portalName)
		if !ok {
			return store.JobFilter{}, eris.Errorf("unknown portal %q", portalName)
		}
		filter.Portal = p
	}
	if state != "" {
		s := model.JobState(state)
		if !s.Valid() {
			return store.JobFilter{}, eris.Errorf("unknown job state %q", state)
		}
		filter.State = s
	}
	return filter, nil
}

func formatJobsList(out io.Writer, jobs []model.ContactJob) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tLEAD\tPORTAL\tSTATE\tPRIO\tPHONE\tTITLE")
	fmt.Fprintln(w, "--\t----\t------\t-----\t----\t-----\t-----")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(j.ID), j.LeadID, j.Portal, j.State, j.Priority, strOrDash(j.Phone), j.Title)
	}
	fmt.Fprintf(w, "\nTotal: %d job(s)\n", len(jobs))
}

func formatJobStats(out io.Writer, tenant string, stats *store.JobStats) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Tenant:\t%s\n", tenant)
	fmt.Fprintf(w, "Total jobs:\t%d\n", stats.Total)
	for _, state := range sortedKeys(stats.ByState) {
		fmt.Fprintf(w, "  %s:\t%d\n", state, stats.ByState[state])
	}
	fmt.Fprintf(w, "By portal:\t\n")
	for _, portal := range sortedKeys(stats.ByPortal) {
		fmt.Fprintf(w, "  %s:\t%d\n", portal, stats.ByPortal[portal])
	}
	fmt.Fprintf(w, "Phones found:\t%d\n", stats.PhonesFound)
	fmt.Fprintf(w, "Messages sent:\t%d\n", stats.MessagesSent)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func strOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
