package commands

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/example/carbonplane/internal/domain"
)

// NewReportCommand prints a client's emission summary for one period.
func NewReportCommand(cfgFile *string) *cobra.Command {
	var (
		clientID   string
		periodType string
		dateStr    string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a client's emission summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			period, err := parsePeriod(periodType, dateStr, a.cfg.Location())
			if err != nil {
				return err
			}

			doc, err := a.stores.Summaries.Get(cmd.Context(), clientID, period)
			if errors.Is(err, domain.ErrNotFound) {
				// Nothing materialised yet; compute on the fly for the report.
				doc, err = a.materialiser.Recompute(cmd.Context(), clientID, period, false)
			}

			if err != nil {
				return err
			}

			renderSummary(cmd, doc)

			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "client id (required)")
	cmd.Flags().StringVar(&periodType, "period", "monthly", "period type: daily, weekly, monthly, yearly, all-time")
	cmd.Flags().StringVar(&dateStr, "date", "", "any date inside the period, YYYY-MM-DD (default today)")

	_ = cmd.MarkFlagRequired("client")

	return cmd
}

func parsePeriod(periodType, dateStr string, loc *time.Location) (domain.Period, error) {
	ts := time.Now().In(loc)

	if dateStr != "" {
		parsed, err := time.ParseInLocation("2006-01-02", dateStr, loc)
		if err != nil {
			return domain.Period{}, fmt.Errorf("parse date %q: %w", dateStr, err)
		}

		ts = parsed
	}

	switch domain.PeriodType(periodType) {
	case domain.PeriodDaily:
		return domain.DailyPeriod(ts, loc), nil
	case domain.PeriodWeekly:
		return domain.WeeklyPeriod(ts, loc), nil
	case domain.PeriodMonthly:
		return domain.MonthlyPeriod(ts, loc), nil
	case domain.PeriodYearly:
		return domain.YearlyPeriod(ts, loc), nil
	case domain.PeriodAllTime:
		return domain.AllTimePeriod(), nil
	}

	return domain.Period{}, fmt.Errorf("unknown period type %q", periodType)
}

func renderSummary(cmd *cobra.Command, doc *domain.EmissionSummary) {
	out := cmd.OutOrStdout()
	header := color.New(color.FgCyan, color.Bold)

	header.Fprintf(out, "Emission summary for %s (%s)\n\n", doc.ClientID, doc.Period.Key())

	totals := table.NewWriter()
	totals.SetOutputMirror(out)
	totals.SetStyle(table.StyleLight)
	totals.AppendHeader(table.Row{"", "CO2e (kg)", "CO2 (kg)", "CH4 (kg)", "N2O (kg)", "Data points"})
	totals.AppendRow(table.Row{
		"Total",
		humanize.CommafWithDigits(doc.Totals.CO2e, 2),
		humanize.CommafWithDigits(doc.Totals.CO2, 2),
		humanize.CommafWithDigits(doc.Totals.CH4, 4),
		humanize.CommafWithDigits(doc.Totals.N2O, 4),
		doc.Totals.DataPointCount,
	})
	totals.Render()

	if len(doc.ByScope) > 0 {
		fmt.Fprintln(out)

		scopes := table.NewWriter()
		scopes.SetOutputMirror(out)
		scopes.SetStyle(table.StyleLight)
		scopes.AppendHeader(table.Row{"Scope", "CO2e (kg)", "Share", "Trend"})

		for _, scope := range sortedKeys(doc.ByScope) {
			cell := doc.ByScope[scope]

			share := ""
			if doc.Totals.CO2e != 0 {
				share = fmt.Sprintf("%.1f%%", cell.CO2e/doc.Totals.CO2e*100)
			}

			scopes.AppendRow(table.Row{
				scope,
				humanize.CommafWithDigits(cell.CO2e, 2),
				share,
				renderTrend(doc.Trends[scope]),
			})
		}

		scopes.Render()
	}

	if trend, ok := doc.Trends["total"]; ok {
		fmt.Fprintf(out, "\nvs previous period: %s\n", renderTrend(trend))
	}

	if doc.Reduction != nil && doc.Reduction.EntryCount > 0 {
		green := color.New(color.FgGreen)
		green.Fprintf(out, "\nNet reduction: %s kg CO2e across %d entries\n",
			humanize.CommafWithDigits(doc.Reduction.TotalNetReduction, 2),
			doc.Reduction.EntryCount)
	}

	if view := doc.ProcessView; view != nil && len(view.Warnings) > 0 {
		yellow := color.New(color.FgYellow)

		fmt.Fprintln(out)

		for _, warning := range view.Warnings {
			yellow.Fprintf(out, "warning: %s: %s\n", warning.ScopeIdentifier, warning.Message)
		}
	}
}

func renderTrend(trend domain.Trend) string {
	switch trend.Direction {
	case domain.TrendUp:
		return color.RedString("▲ +%.1f%%", trend.Percentage)
	case domain.TrendDown:
		return color.GreenString("▼ %.1f%%", trend.Percentage)
	default:
		return "same"
	}
}

func sortedKeys(m map[string]*domain.AxisTotals) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
