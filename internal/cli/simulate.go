package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"marketplace-repricer/internal/app"
)

var (
	simulateCurrent     float64
	simulateCompetitors []float64
	simulateRuleType    string
	simulateAction      string
	simulateValue       float64
	simulateMin         float64
	simulateMax         float64
	simulateMaxChange   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟一次规则评估，不写库不发队列",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCurrent <= 0 {
			return errors.New("--current 必须大于 0")
		}
		if len(simulateCompetitors) == 0 {
			return errors.New("--competitor 至少提供一个")
		}

		opts := app.SimulateOptions{
			CurrentPrice:     simulateCurrent,
			Competitors:      simulateCompetitors,
			RuleType:         simulateRuleType,
			ActionType:       simulateAction,
			ActionValue:      simulateValue,
			MinPrice:         simulateMin,
			MaxPrice:         simulateMax,
			MaxChangePercent: simulateMaxChange,
		}
		return getApp().Simulate(opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "当前挂牌价")
	simulateCmd.Flags().Float64SliceVar(&simulateCompetitors, "competitor", nil, "竞品价格，可重复")
	simulateCmd.Flags().StringVar(&simulateRuleType, "rule-type", "", "Rule type (empty for the default heuristic)")
	simulateCmd.Flags().StringVar(&simulateAction, "action", "", "Rule action (match or undercut)")
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "Action value (percentage)")
	simulateCmd.Flags().Float64Var(&simulateMin, "min", 0, "Safety floor price")
	simulateCmd.Flags().Float64Var(&simulateMax, "max", 0, "Safety ceiling price")
	simulateCmd.Flags().Float64Var(&simulateMaxChange, "max-change", 0, "Safety max change percent")
}
