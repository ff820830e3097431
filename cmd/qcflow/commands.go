package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"qcflow/internal/alarm"
	"qcflow/internal/check"
	"qcflow/internal/check/modules"
	"qcflow/internal/config"
	"qcflow/internal/logger"
	"qcflow/internal/models"
	"qcflow/internal/processor"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "qcflow",
		Short:         "Quality control checks and alarms over monitor objects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default $CONFIG_PATH or config/config.yaml)")

	root.AddCommand(
		newRunCmd(&configPath),
		newValidateCmd(&configPath),
		newEvalCmd(),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the checker service until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			p, err := processor.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return p.Run(ctx)
		},
	}
}

type validateReport struct {
	Checks   []checkReport `json:"checks"`
	Alarms   []string      `json:"alarms"`
	Modules  []string      `json:"modules"`
	Policies []string      `json:"policies"`
}

type checkReport struct {
	Name    string   `json:"name"`
	Module  string   `json:"module"`
	Policy  string   `json:"policy"`
	Objects []string `json:"objects"`
}

func newValidateCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the config and build every check and alarm without running them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return validate(cmd.OutOrStdout(), cfg, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func validate(out io.Writer, cfg *config.Config, asJSON bool) error {
	checks, err := processor.BuildChecks(cfg)
	if err != nil {
		return err
	}
	engine, err := processor.BuildAlarms(cfg)
	if err != nil {
		return err
	}

	report := validateReport{Policies: check.Policies()}
	for _, c := range checks {
		report.Checks = append(report.Checks, checkReport{
			Name:    c.Name(),
			Module:  c.Module(),
			Policy:  c.Policy(),
			Objects: c.ObjectNames(),
		})
	}
	for _, st := range engine.Statuses() {
		report.Alarms = append(report.Alarms, st.Name+": "+st.Condition)
	}
	report.Modules = modules.NewRegistry().Modules()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "%d checks, %d alarms: OK\n", len(report.Checks), len(report.Alarms))
	for _, c := range report.Checks {
		fmt.Fprintf(out, "  check %s (%s, %s) <- %s\n", c.Name, c.Module, c.Policy, strings.Join(c.Objects, ", "))
	}
	for _, a := range report.Alarms {
		fmt.Fprintf(out, "  alarm %s\n", a)
	}
	return nil
}

func newEvalCmd() *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "eval CONDITION",
		Short: "Evaluate a condition against given check qualities",
		Example: `  qcflow eval 'Check:clusters == Quality:Good & !(Check:tracks < Quality:Medium)' \
      --set clusters=Good --set tracks=Bad`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, tree, err := evaluate(args[0], sets)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", tree, res)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "check verdict as CHECK=QUALITY, repeatable")
	return cmd
}

// evaluate parses condition, feeds it one verdict per CHECK=QUALITY
// assignment and returns the result with the parsed tree.
func evaluate(condition string, sets []string) (string, string, error) {
	a, err := alarm.New("eval", condition, 0)
	if err != nil {
		return "", "", err
	}

	verdicts := make([]*models.QualityObject, 0, len(sets))
	for _, s := range sets {
		name, q, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return "", "", fmt.Errorf("invalid --set %q: expected CHECK=QUALITY", s)
		}
		quality, err := models.ParseQuality(q)
		if err != nil {
			return "", "", fmt.Errorf("invalid --set %q: %w", s, err)
		}
		verdicts = append(verdicts, models.NewQualityObject(name, quality, nil))
	}

	res, evaluated, err := a.Run(alarm.Refs(verdicts))
	if err != nil {
		return "", "", err
	}
	if !evaluated {
		// no check was given: conditions over constants still have a value
		if res, err = a.Expression().Eval(); err != nil {
			return "", "", err
		}
	}
	return res.String(), a.Expression().String(), nil
}
