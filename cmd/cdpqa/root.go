package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cdpqa/internal/config"
	"cdpqa/internal/logger"
	"cdpqa/pkg/api"
	"cdpqa/pkg/model"
)

const defaultConfigFile = "config.yaml"

// serviceFactory 便于测试替换
type serviceFactory func(cfg *config.Config, l logger.Logger) (api.Service, error)

type app struct {
	cfgFile    string
	newService serviceFactory
	svc        api.Service
	log        logger.Logger
}

func newRootCmd(newService serviceFactory) *cobra.Command {
	a := &app{newService: newService}
	root := &cobra.Command{
		Use:           "cdpqa",
		Short:         "Run declarative browser and HTTP test cases against a web application",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./config.yaml when present)")

	root.AddCommand(
		a.importCmd(),
		a.runCmd(),
		a.execCmd(),
		a.execAllCmd(),
		a.resultsCmd(),
		a.statusCmd(),
	)
	return root
}

func (a *app) init() error {
	path := a.cfgFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.log = logger.New(logger.Options{Level: cfg.Log.Level, Writer: cfg.Log.Writer, File: cfg.Log.File})
	a.log.Debug("配置已加载", "path", path, "baseURL", cfg.Runner.BaseURL)
	a.svc, err = a.newService(cfg, a.log)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	return nil
}

// withService 命令结束后关闭服务
func (a *app) withService(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := a.svc.Close(); err == nil {
				err = cerr
			}
		}()
		return run(cmd, args)
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import test cases from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(cmd *cobra.Command, args []string) error {
			cases, err := readCases(args[0])
			if err != nil {
				return err
			}
			ids, err := a.svc.ImportTestCases(cmd.Context(), cases)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"imported": len(ids), "testIds": ids})
		}),
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Execute test cases from a JSON file without storing them",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(cmd *cobra.Command, args []string) error {
			cases, err := readCases(args[0])
			if err != nil {
				return err
			}
			results := make([]model.TestRunResult, 0, len(cases))
			failed := 0
			for _, tc := range cases {
				res := a.svc.RunTestCase(cmd.Context(), tc)
				if res.Status != model.StatusPassed {
					failed++
				}
				results = append(results, res)
			}
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d test cases did not pass", failed, len(cases))
			}
			return nil
		}),
	}
}

func (a *app) execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <testId>",
		Short: "Execute a stored test case and record the result",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.ExecuteTest(cmd.Context(), model.TestCaseID(args[0]))
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Status != model.StatusPassed {
				return fmt.Errorf("test %s finished with status %s", args[0], res.Status)
			}
			return nil
		}),
	}
}

func (a *app) execAllCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "exec-all",
		Short: "Execute all pending test cases with bounded concurrency",
		Args:  cobra.NoArgs,
		RunE: a.withService(func(cmd *cobra.Command, args []string) error {
			sum, err := a.svc.ExecuteAll(cmd.Context(), concurrency)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), sum); err != nil {
				return err
			}
			if sum.Failed+sum.Errored > 0 {
				return fmt.Errorf("%d of %d test cases did not pass", sum.Failed+sum.Errored, sum.Executed)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel browser runs (1-10, default from config)")
	return cmd
}

func (a *app) resultsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "results <testId>",
		Short: "Show stored results of a test case, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(cmd *cobra.Command, args []string) error {
			rs, err := a.svc.Results(cmd.Context(), model.TestCaseID(args[0]), limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rs)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <testId>",
		Short: "Show the status and execution count of a stored test case",
		Args:  cobra.ExactArgs(1),
		RunE: a.withService(func(cmd *cobra.Command, args []string) error {
			st, err := a.svc.Stats(cmd.Context(), model.TestCaseID(args[0]))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		}),
	}
}

// readCases 接受用例数组、单个用例或 {"testCases": [...]}
func readCases(path string) ([]model.TestCase, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []model.TestCase
	if err := json.Unmarshal(b, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		TestCases []model.TestCase `json:"testCases"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil && len(wrapped.TestCases) > 0 {
		return wrapped.TestCases, nil
	}
	var one model.TestCase
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if one.PageURL == "" && len(one.Metadata.BrowserSteps) == 0 && len(one.Metadata.HTTPRequests) == 0 && one.TestID == "" {
		return nil, errors.New("no test cases found in " + path)
	}
	return []model.TestCase{one}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
