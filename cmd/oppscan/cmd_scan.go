package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantrun/oppscan/internal/config"
	"github.com/quantrun/oppscan/internal/domain/scan"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot opportunity scan",
	Long: `Run a single scan for a user against the built-in strategy set and print
the ranked opportunities. Useful for smoke testing a deployment without the
HTTP API.

Examples:
  oppscan scan --user demo-pro
  oppscan scan --user demo-enterprise --format json
  oppscan scan --user demo-basic --amount 5000 --risk low`,
	RunE: runScanOnce,
}

var (
	scanUser    string
	scanFormat  string
	scanAmount  float64
	scanRisk    string
	scanTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanUser, "user", "", "User to scan for (required)")
	scanCmd.Flags().StringVar(&scanFormat, "format", "table", "Output format: table, json")
	scanCmd.Flags().Float64Var(&scanAmount, "amount", 0, "Investment amount in USD")
	scanCmd.Flags().StringVar(&scanRisk, "risk", "", "Risk tolerance (low, medium, high)")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 5*time.Minute, "Overall scan timeout")

	scanCmd.MarkFlagRequired("user")
}

func runScanOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel)

	c := buildCore(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	req := scan.Request{UserID: scanUser, ForceRefresh: true}
	if scanAmount > 0 || scanRisk != "" {
		req.Constraints = &scan.Constraints{AmountUSD: scanAmount, RiskTolerance: scanRisk}
	}

	rec, err := c.coord.StartScan(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	c.coord.Wait()

	final, found, err := c.store.Get(ctx, rec.ScanID)
	if err != nil {
		return fmt.Errorf("failed to read scan result: %w", err)
	}
	if !found {
		return fmt.Errorf("scan %s expired before it could be read", rec.ScanID)
	}
	if final.Status == scan.StatusFailed {
		return fmt.Errorf("scan %s failed: %s", final.ScanID, final.Error)
	}

	switch strings.ToLower(scanFormat) {
	case "json":
		return outputScanJSON(final)
	default:
		return outputScanTable(final)
	}
}

func outputScanJSON(rec *scan.Record) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rec)
}

func outputScanTable(rec *scan.Record) error {
	fmt.Printf("Scan %s for %s (%d/%d strategies)\n\n",
		rec.ScanID, rec.UserID,
		rec.Progress.StrategiesCompleted, rec.Progress.TotalStrategies)

	if rec.Results == nil || len(rec.Results.Opportunities) == 0 {
		if rec.Results != nil && rec.Results.ThresholdTransparency != "" {
			fmt.Println(rec.Results.ThresholdTransparency)
		} else {
			fmt.Println("No opportunities found.")
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tExchange\tType\tConfidence\tProfit USD\tRisk\tCorroboration")
	fmt.Fprintln(w, "------\t--------\t----\t----------\t----------\t----\t-------------")
	for _, opp := range rec.Results.Opportunities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\t%.2f\t%s\t%d\n",
			opp.Symbol, opp.Exchange, opp.OpportunityType,
			opp.Confidence, opp.ProfitPotential, opp.Risk, opp.Corroboration)
	}
	w.Flush()

	fmt.Printf("\n%s\n", rec.Results.ThresholdTransparency)
	return nil
}
