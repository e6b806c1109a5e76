/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


// Package app implements the kalc command line.
package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/kalc-io/kalc/pkg/kalc/builder"
	"github.com/kalc-io/kalc/pkg/kalc/metrics"
	"github.com/kalc-io/kalc/pkg/kalc/report"
	"github.com/kalc-io/kalc/pkg/kalc/search"
	"github.com/kalc-io/kalc/pkg/kalc/snapshot"
	"github.com/kalc-io/kalc/pkg/kalc/synthetic"
)

// NewKalcCommand returns the root command. Results are written to out.
func NewKalcCommand(out io.Writer) *cobra.Command {
	opts := NewOptions()
	cmd := &cobra.Command{
		Use:   "kalc",
		Short: "Model a Kubernetes cluster snapshot and plan remediations",
		Long: `kalc loads Kubernetes manifests into an in-memory model of the cluster,
scores its fault tolerance and node oversubscription, and searches for the
cheapest sequence of actions reaching a goal, such as spreading a service
across nodes or draining a node. Move plans are rendered as kubectl scripts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newAnalyzeCommand(opts),
		newPlanCommand(opts),
		newMoveScriptCommand(opts),
		newDumpCommand(),
		newGenerateCommand(),
	)
	return cmd
}

func addModeFlag(cmd *cobra.Command, mode *string) {
	cmd.Flags().StringVar(mode, "mode", string(builder.ModeLoad), "How manifests are ingested: create, load, scale, apply, replace or remove.")
}

// output returns the command's writer, or a file when path is set.
func output(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

type deploymentSummary struct {
	Name   string  `json:"name"`
	Pods   int     `json:"pods"`
	Nodes  int     `json:"nodes"`
	Square float64 `json:"faultToleranceSquare"`
	Geom   float64 `json:"faultToleranceGeom"`
}

type nodeSummary struct {
	Name    string  `json:"name"`
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Average float64 `json:"average"`
}

type analysisSummary struct {
	Fingerprint         string              `json:"fingerprint"`
	Composite           float64             `json:"composite"`
	MeanFaultTolerance  *float64            `json:"meanFaultTolerance,omitempty"`
	WorstFaultTolerance *float64            `json:"worstFaultTolerance,omitempty"`
	MeanOversubscribed  *float64            `json:"meanOversubscription,omitempty"`
	RMSD                *float64            `json:"rmsd,omitempty"`
	MD                  *float64            `json:"md,omitempty"`
	Deployments         []deploymentSummary `json:"deployments,omitempty"`
	Nodes               []nodeSummary       `json:"nodes,omitempty"`
	Warnings            []string            `json:"warnings,omitempty"`
}

func summarize(fingerprint string, r metrics.Result, warnings []error) analysisSummary {
	s := analysisSummary{Fingerprint: fingerprint, Composite: r.Composite}
	if r.FaultToleranceDefined {
		s.MeanFaultTolerance = &r.MeanFaultTolerance
		s.WorstFaultTolerance = &r.WorstFaultTolerance
	}
	if r.OversubscriptionDefined {
		s.MeanOversubscribed = &r.Oversubscription.Mean
		s.RMSD = &r.Oversubscription.RMSD
		s.MD = &r.Oversubscription.MD
	}
	for _, d := range r.Deployments {
		s.Deployments = append(s.Deployments, deploymentSummary{Name: d.Name, Pods: d.Pods, Nodes: d.Nodes, Square: d.Square, Geom: d.Geom})
	}
	for _, n := range r.Oversubscription.Nodes {
		s.Nodes = append(s.Nodes, nodeSummary{Name: n.Name, CPU: n.CPU, Memory: n.Mem, Average: n.Average})
	}
	sort.Slice(s.Deployments, func(i, j int) bool { return s.Deployments[i].Name < s.Deployments[j].Name })
	for _, w := range warnings {
		s.Warnings = append(s.Warnings, w.Error())
	}
	return s
}

func newAnalyzeCommand(opts *Options) *cobra.Command {
	var mode, reportFile, out string
	cmd := &cobra.Command{
		Use:   "analyze PATH...",
		Short: "Score the fault tolerance and oversubscription of a snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) (err error) {
			m, err := builder.ParseMode(mode)
			if err != nil {
				return err
			}
			s, err := opts.newSession(cmd.Context(), m, paths)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.close()) }()

			analysis, err := s.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			if reportFile != "" {
				if err := report.RenderFile(reportFile, "kalc analysis", report.Snapshot{Label: "current", Result: analysis.Metrics}); err != nil {
					return err
				}
			}
			return writeYAML(cmd, out, summarize(analysis.Fingerprint, analysis.Metrics, analysis.Warnings))
		},
	}
	addModeFlag(cmd, &mode)
	cmd.Flags().StringVar(&reportFile, "report", "", "Write an HTML chart report to this file.")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write the summary to this file instead of stdout.")
	return cmd
}

func newPlanCommand(opts *Options) *cobra.Command {
	var mode, goal, out, scriptFile, reportFile string
	cmd := &cobra.Command{
		Use:   "plan PATH...",
		Short: "Search for the cheapest plan reaching a goal",
		Long: `Search for the cheapest plan reaching a goal. Goals are:

  spread:<service>:<n>    n pods of the service on distinct nodes (2..5)
  antiaffinity:<service>  the service's anti-affinity policy is met
  antiaffinity-enabled    the cluster-wide anti-affinity flag is set
  drain:<node>            the node is emptied and deactivated
  capacity                no node is oversubscribed

Services are namespace/name, or a name in the default namespace.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) (err error) {
			m, err := builder.ParseMode(mode)
			if err != nil {
				return err
			}
			s, err := opts.newSession(cmd.Context(), m, paths)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.close()) }()

			result, planErr := s.Plan(cmd.Context(), goal)
			var notFound *search.PlanNotFoundError
			if planErr != nil && !errors.As(planErr, &notFound) {
				return planErr
			}
			if err := writeYAML(cmd, out, result.API); err != nil {
				return err
			}
			if notFound != nil {
				return notFound
			}
			if reportFile != "" {
				before := metrics.Compute(result.Initial)
				after := metrics.Compute(result.Plan.Final)
				if err := report.RenderFile(reportFile, "kalc plan "+goal,
					report.Snapshot{Label: "before", Result: before},
					report.Snapshot{Label: "after", Result: after}); err != nil {
					return err
				}
			}
			if scriptFile != "" && len(result.Moves) > 0 {
				w, closeFn, err := output(cmd, scriptFile)
				if err != nil {
					return err
				}
				if err := s.MoveScript(w, result); err != nil {
					_ = closeFn()
					return err
				}
				if err := closeFn(); err != nil {
					return err
				}
				if scriptFile != "-" {
					return os.Chmod(scriptFile, 0o755)
				}
			}
			return nil
		},
	}
	addModeFlag(cmd, &mode)
	cmd.Flags().StringVar(&goal, "goal", "", "Goal to reach.")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write the plan to this file instead of stdout.")
	cmd.Flags().StringVar(&scriptFile, "script", "", "Write a move script for the plan's pod moves to this file.")
	cmd.Flags().StringVar(&reportFile, "report", "", "Write an HTML report comparing the cluster before and after the plan.")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func newMoveScriptCommand(opts *Options) *cobra.Command {
	var mode, goal, out string
	cmd := &cobra.Command{
		Use:   "move-script PATH...",
		Short: "Plan a goal and print the kubectl script performing its pod moves",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) (err error) {
			m, err := builder.ParseMode(mode)
			if err != nil {
				return err
			}
			s, err := opts.newSession(cmd.Context(), m, paths)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.close()) }()

			result, err := s.Plan(cmd.Context(), goal)
			if err != nil {
				return err
			}
			w, closeFn, err := output(cmd, out)
			if err != nil {
				return err
			}
			if err := s.MoveScript(w, result); err != nil {
				_ = closeFn()
				return err
			}
			return closeFn()
		},
	}
	addModeFlag(cmd, &mode)
	cmd.Flags().StringVar(&goal, "goal", "", "Goal to reach.")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write the script to this file instead of stdout.")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func newDumpCommand() *cobra.Command {
	var kubeconfig, kubeContext, out string
	var dumpOpts snapshot.Options
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the modeled objects of a live cluster as a YAML stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := snapshot.NewClient(kubeconfig, kubeContext)
			if err != nil {
				return err
			}
			w, closeFn, err := output(cmd, out)
			if err != nil {
				return err
			}
			if _, err := snapshot.Dump(cmd.Context(), client, w, dumpOpts); err != nil {
				_ = closeFn()
				return err
			}
			if dumpOpts.Namespace != "" || dumpOpts.LabelSelector != "" {
				klog.FromContext(cmd.Context()).Info("Snapshot covers part of the cluster, plan it with the same scope",
					"scopeNamespace", dumpOpts.Namespace, "scopeSelector", dumpOpts.LabelSelector)
			}
			return closeFn()
		},
	}
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig file.")
	cmd.Flags().StringVar(&kubeContext, "context", "", "Kubeconfig context to use.")
	cmd.Flags().StringVarP(&dumpOpts.Namespace, "namespace", "n", "", "Only dump this namespace.")
	cmd.Flags().StringVarP(&dumpOpts.LabelSelector, "selector", "l", "", "Label selector for pods, replica sets and deployments.")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to this file instead of stdout.")
	return cmd
}

func newGenerateCommand() *cobra.Command {
	cfg := synthetic.DefaultConfig()
	var out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a seeded random cluster as a YAML stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, closeFn, err := output(cmd, out)
			if err != nil {
				return err
			}
			if _, err := synthetic.Write(w, cfg); err != nil {
				_ = closeFn()
				return err
			}
			return closeFn()
		},
	}
	fs := cmd.Flags()
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed.")
	fs.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Namespace of the generated workloads.")
	fs.IntVar(&cfg.Nodes, "nodes", cfg.Nodes, "Number of nodes.")
	fs.IntVar(&cfg.Deployments, "deployments", cfg.Deployments, "Number of deployments, each with a service.")
	fs.IntVar(&cfg.MinReplicas, "min-replicas", cfg.MinReplicas, "Minimum replicas per deployment.")
	fs.IntVar(&cfg.MaxReplicas, "max-replicas", cfg.MaxReplicas, "Maximum replicas per deployment.")
	fs.StringVar(&cfg.NodeCPU, "node-cpu", cfg.NodeCPU, "CPU capacity of every node.")
	fs.StringVar(&cfg.NodeMemory, "node-memory", cfg.NodeMemory, "Memory capacity of every node.")
	fs.Float64Var(&cfg.PendingRatio, "pending-ratio", cfg.PendingRatio, "Fraction of pods left unscheduled.")
	fs.BoolVar(&cfg.AntiAffinity, "antiaffinity", cfg.AntiAffinity, "Annotate services with an anti-affinity target.")
	fs.StringVarP(&out, "output", "o", "", "Write to this file instead of stdout.")
	return cmd
}

func writeYAML(cmd *cobra.Command, path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	w, closeFn, err := output(cmd, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}
