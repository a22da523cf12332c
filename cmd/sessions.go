package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/model"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and reset saved portal logins",
}

var sessionsListTenant string

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		tenant := sessionsListTenant
		if tenant == "" {
			tenant = cfg.Contact.Tenant
		}

		sessions, err := st.ListSessions(cmd.Context(), tenant)
		if err != nil {
			return eris.Wrap(err, "list sessions")
		}

		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}
		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

var (
	sessionsInvalidateTenant string
	sessionsInvalidatePortal string
)

var sessionsInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Force a fresh login on the next run",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, ok := model.ParsePortal(sessionsInvalidatePortal)
		if !ok {
			return eris.Errorf("unknown portal %q", sessionsInvalidatePortal)
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		tenant := sessionsInvalidateTenant
		if tenant == "" {
			tenant = cfg.Contact.Tenant
		}

		if err := st.InvalidateSession(cmd.Context(), tenant, p); err != nil {
			return eris.Wrapf(err, "invalidate %s session", p)
		}

		zap.L().Info("session invalidated",
			zap.String("tenant", tenant),
			zap.String("portal", string(p)))
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsListTenant, "tenant", "", "tenant to list (defaults to contact.tenant)")

	sessionsInvalidateCmd.Flags().StringVar(&sessionsInvalidateTenant, "tenant", "", "tenant the session belongs to (defaults to contact.tenant)")
	sessionsInvalidateCmd.Flags().StringVar(&sessionsInvalidatePortal, "portal", "", "portal whose session to drop")
	_ = sessionsInvalidateCmd.MarkFlagRequired("portal")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsInvalidateCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func formatSessionsList(out io.Writer, sessions []model.Session) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "PORTAL\tACCOUNT\tVALID\tLAST USED")
	fmt.Fprintln(w, "------\t-------\t-----\t---------")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n",
			s.Portal, s.Account, s.IsValid, s.LastUsedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "\nTotal: %d session(s)\n", len(sessions))
}
