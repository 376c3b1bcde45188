package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/monitoring"
	"github.com/partwise/pricing-cli/internal/refresh"
)

func formatItemResults(w io.Writer, results []refresh.ItemResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tKEY\tOUTCOME\tOLD\tNEW\tSOURCE\tDETAIL")
	for _, r := range results {
		detail := r.Reason
		if r.SubstitutedKey != "" {
			detail = "-> " + r.SubstitutedKey + ": " + detail
		}
		if r.Error != "" {
			detail = r.Error
		}
		src := r.Source
		if r.FromCache {
			src += " (cache)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\n",
			shortID(r.ItemID), r.ExternalKey, r.Outcome, r.OldPrice, r.NewPrice, src, truncateText(detail, 80))
	}
	_ = tw.Flush()
}

func formatBatchSummary(w io.Writer, rep *refresh.BatchReport) {
	fmt.Fprintf(w, "%s: %d items, %d ok, %d substituted, %d unresolved, %d failed in %s\n",
		rep.Job, rep.Total, rep.Success, rep.Substituted, rep.Unresolved, rep.Failed,
		rep.FinishedAt.Sub(rep.StartedAt).Round(time.Second))
}

func formatProposal(w io.Writer, p *refresh.Proposal) {
	fmt.Fprintf(w, "Item:      %s (%s)\n", p.Item.Name, p.Item.ExternalKey)
	fmt.Fprintf(w, "Original:  %.2f\n", p.Item.OriginalPrice)
	if p.Listing.Price != nil {
		fmt.Fprintf(w, "Listing:   available=%t price=%.2f reason=%s\n", p.Listing.Available, *p.Listing.Price, p.Listing.Reason)
	} else {
		fmt.Fprintf(w, "Listing:   available=%t reason=%s\n", p.Listing.Available, p.Listing.Reason)
	}
	if p.Listing.Err != "" {
		fmt.Fprintf(w, "Error:     %s\n", p.Listing.Err)
	}
	fmt.Fprintf(w, "Decision:  %s (%s)\n", p.Decision.Action, p.Decision.Reason)
	switch {
	case p.Candidate != nil:
		price, _ := p.Candidate.KnownPrice()
		fmt.Fprintf(w, "Proposed:  %s (%s) at %.2f\n", p.Candidate.AlternativeKey, p.Candidate.AlternativeName, price)
	case p.CandidateRejected != "":
		fmt.Fprintf(w, "Proposed:  none (%s)\n", p.CandidateRejected)
	}
}

func formatStats(w io.Writer, s *model.SubstitutionStats) {
	fmt.Fprintf(w, "Substituted %d of %d items\n", s.Substituted, s.Total)
	if len(s.ByReason) == 0 {
		return
	}
	reasons := make([]string, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if s.ByReason[reasons[i]] != s.ByReason[reasons[j]] {
			return s.ByReason[reasons[i]] > s.ByReason[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REASON\tCOUNT")
	for _, r := range reasons {
		fmt.Fprintf(tw, "%s\t%d\n", r, s.ByReason[r])
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "By tier: A=%d B=%d C=%d\n", s.ByTier[model.TierA], s.ByTier[model.TierB], s.ByTier[model.TierC])
}

func formatJobRuns(w io.Writer, runs []model.JobRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Job, r.Status, r.Trigger, r.StartedAt.Format("2006-01-02 15:04"), dur, truncateText(r.Error, 60))
	}
	_ = tw.Flush()
}

func formatAlerts(w io.Writer, alerts []monitoring.Alert) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSEVERITY\tMESSAGE")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Type, a.Severity, a.Message)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
