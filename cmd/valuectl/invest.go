package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"propval/internal/investment"
	"propval/internal/models"
)

var (
	investPrice     float64
	assumptionsFile string
	investRank      bool
	investStrategy  string
	investTopN      int
)

var investCmd = &cobra.Command{
	Use:   "invest",
	Short: "Evaluate a purchase price or rank the feed as investments",
	Long: `Assumptions are read from a YAML file with the same keys as the API,
for example:

  down_payment_pct: 0.25
  mortgage_rate: 0.04
  holding_period_years: 10

Missing keys fall back to the INVEST_* configuration. An explicit 0 is
kept, so "mortgage_rate: 0" evaluates an interest-free loan.`,
	RunE: runInvest,
}

func init() {
	rootCmd.AddCommand(investCmd)

	investCmd.Flags().Float64Var(&investPrice, "price", 0, "Purchase price to evaluate")
	investCmd.Flags().StringVar(&assumptionsFile, "assumptions", "", "YAML file with investment assumptions")
	investCmd.Flags().BoolVar(&investRank, "rank", false, "Rank every listing in the feed instead")
	investCmd.Flags().StringVar(&investStrategy, "strategy", "balanced", "Ranking strategy (cash_flow|appreciation|balanced)")
	investCmd.Flags().IntVar(&investTopN, "top", 10, "Number of ranked listings to show")
}

func loadAssumptions(path string) (models.AssumptionOverrides, error) {
	var a models.AssumptionOverrides
	if path == "" {
		return a, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return a, fmt.Errorf("failed to read assumptions: %w", err)
	}
	if err := yaml.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("failed to parse assumptions: %w", err)
	}
	return a, nil
}

func runInvest(cmd *cobra.Command, args []string) error {
	if !investRank && !(investPrice > 0) {
		return fmt.Errorf("--price must be positive unless --rank is set")
	}
	strategy, err := investment.ParseStrategy(investStrategy)
	if err != nil {
		return err
	}
	overrides, err := loadAssumptions(assumptionsFile)
	if err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	assumptions := overrides.Apply(e.cfg.Investment)

	if !investRank {
		return render(os.Stdout, investment.Evaluate(investPrice, assumptions))
	}

	records, err := e.db.GetProperties(context.Background(), nil)
	if err != nil {
		return err
	}
	return render(os.Stdout, investment.RankInvestments(records, assumptions, investment.RankOptions{
		Strategy: strategy,
		TopN:     investTopN,
	}))
}
