// groupnorm-check runs the group normalization checks over a grid of shapes, groups and precision modes,
// on one of the backends, and prints a table with the results.
//
// Usage:
//
//	groupnorm-check run [--config sweep.yaml] [--backend cpu|xla] [--plugin cpu] [--seed N] [--elementwise]
//	groupnorm-check backends
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomlx/groupnorm/backends"
	_ "github.com/gomlx/groupnorm/backends/cpu"
	"github.com/gomlx/groupnorm/backends/xla"
	"github.com/gomlx/groupnorm/sweep"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "groupnorm-check",
		Short: "Numerical checks of group normalization",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true
		},
	}
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
	rootCmd.AddCommand(newRunCmd(), newBackendsCmd())
	return rootCmd
}

type runFlags struct {
	config, backend, plugin string
	replicas                int
	seed                    uint64
	seedSet                 bool
	elementwise             bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.seedSet = cmd.Flags().Changed("seed")
			return runHandler(cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "", "YAML sweep configuration. If empty, the standard grid is used.")
	cmd.Flags().StringVar(&f.backend, "backend", backends.DefaultName, "Backend to check: \"cpu\" or \"xla\". If empty, $"+backends.ConfigEnvVar+" is used.")
	cmd.Flags().StringVar(&f.plugin, "plugin", xla.DefaultPlugin, "PJRT plugin used by the xla backend.")
	cmd.Flags().IntVar(&f.replicas, "replicas", 1, "Number of devices used by the xla backend.")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Random seed. It overrides the seed of the configuration.")
	cmd.Flags().BoolVar(&f.elementwise, "elementwise", false, "Also compare element-wise numerical gradients.")
	return cmd
}

func newBackend(f runFlags) (backends.Backend, error) {
	if f.backend == xla.BackendName {
		return xla.New(f.plugin, xla.WithReplicas(f.replicas))
	}
	return backends.New(f.backend)
}

func runHandler(w io.Writer, f runFlags) error {
	config := sweep.Default()
	if f.config != "" {
		var err error
		if config, err = sweep.Load(f.config); err != nil {
			return err
		}
	}
	if f.seedSet {
		config.Seed = f.seed
	}
	backend, err := newBackend(f)
	if err != nil {
		return err
	}
	defer backend.Finalize()

	results := sweep.Run(backend, config, sweep.Options{Elementwise: f.elementwise})
	failures := writeResults(w, backend.Name(), results)
	if failures > 0 {
		return errors.Errorf("%d of %d cases failed", failures, len(results))
	}
	fmt.Fprintf(w, "all %d cases passed\n", len(results))
	return nil
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	// Keep the first line, the table cells are short.
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return "FAIL: " + msg
}

func writeResults(w io.Writer, backendName string, results []*sweep.Result) (failures int) {
	fmt.Fprintf(w, "backend: %s\n", backendName)
	var data [][]string
	for _, r := range results {
		if !r.Ok() {
			failures++
		}
		if r.Case.Expect != sweep.ExpectPass || r.Setup != nil {
			data = append(data, []string{r.Case.Name(), status(r.Setup), "-", "-", "-"})
			continue
		}
		batch := "-"
		if r.BatchChecked {
			batch = status(r.BatchInvariance)
		}
		data = append(data, []string{r.Case.Name(), status(r.Forward), batch, status(r.Backward), fmt.Sprintf("%.3g", r.MaxError)})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"CASE", "FORWARD", "BATCH", "BACKWARD", "MAX ERROR"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return failures
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered backends and the PJRT plugins found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "backends: %s\n", strings.Join(backends.List(), ", "))
			plugins := xla.AvailablePlugins()
			if len(plugins) == 0 {
				fmt.Fprintln(w, "PJRT plugins: none found")
				return nil
			}
			fmt.Fprintf(w, "PJRT plugins: %s\n", strings.Join(plugins, ", "))
			return nil
		},
	}
}
