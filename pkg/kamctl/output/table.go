package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kirozen/kamctl/pkg/kamctl/client"
	"github.com/kirozen/kamctl/pkg/kamctl/store"
)

func WriteAccountTable(w io.Writer, accounts []store.Account) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tEMAIL\tPROVIDER\tMETHOD\tSTATUS\tEXPIRES")
	for _, a := range accounts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(a.ID), a.Email, a.Provider, a.AuthMethod, statusCell(a), formatTime(a.ExpiresAt))
	}
	_ = tw.Flush()
}

func WriteAccountTableWide(w io.Writer, accounts []store.Account) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tEMAIL\tPROVIDER\tMETHOD\tLABEL\tSTATUS\tADDED\tUPDATED\tEXPIRES")
	for _, a := range accounts {
		label := a.Label
		if label == "" {
			label = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Email, a.Provider, a.AuthMethod, label, statusCell(a),
			formatTime(a.AddedAt), formatTime(a.UpdatedAt), formatTime(a.ExpiresAt))
	}
	_ = tw.Flush()
}

func WriteUsageTable(w io.Writer, email string, usage *client.UsageLimits) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "EMAIL\tUSER_ID")
	userEmail := usage.UserInfo.Email
	if userEmail == "" {
		userEmail = email
	}
	_, _ = fmt.Fprintf(tw, "%s\t%s\n", userEmail, usage.UserInfo.UserID)
	_ = tw.Flush()
}

func statusCell(a store.Account) string {
	if a.Status == store.StatusSuspended {
		return store.StatusSuspended
	}
	if a.Expired() {
		return "expired"
	}
	return a.Status
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
