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


// Package kalc loads cluster snapshots, scores them and plans remediations.
package kalc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"

	"github.com/kalc-io/kalc/pkg/api/v1alpha1"
	"github.com/kalc-io/kalc/pkg/kalc/builder"
	"github.com/kalc-io/kalc/pkg/kalc/metrics"
	"github.com/kalc-io/kalc/pkg/kalc/model"
	"github.com/kalc-io/kalc/pkg/kalc/policy"
	"github.com/kalc-io/kalc/pkg/kalc/script"
	"github.com/kalc-io/kalc/pkg/kalc/search"
)

const tracerName = "github.com/kalc-io/kalc/pkg/kalc"

// Recorder observes ingestion and search.
type Recorder interface {
	builder.Recorder
	search.Observer
}

// Kalc runs one load session: manifests are loaded, built once, then analyzed or planned against.
type Kalc struct {
	args        *v1alpha1.KalcArgs
	logger      klog.Logger
	tracer      trace.Tracer
	recorder    Recorder
	builder     *builder.Builder
	transitions []search.Transition
}

// Option configures a Kalc.
type Option func(*Kalc)

// WithRecorder reports statistics to r.
func WithRecorder(r Recorder) Option {
	return func(k *Kalc) {
		k.recorder = r
	}
}

// New validates args and starts an empty session. Nil args means the defaults.
func New(ctx context.Context, args *v1alpha1.KalcArgs, opts ...Option) (*Kalc, error) {
	if args == nil {
		args = &v1alpha1.KalcArgs{}
		v1alpha1.Scheme.Default(args)
	}
	if err := v1alpha1.ValidateKalcArgs(args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	transitions, err := policy.Transitions(args.EnabledFamilies...)
	if err != nil {
		return nil, err
	}
	known := map[string]bool{}
	for _, t := range transitions {
		known[t.Name] = true
	}
	for name := range args.TransitionCosts {
		if !known[name] {
			return nil, fmt.Errorf("cost given for unknown or disabled transition %q", name)
		}
	}

	k := &Kalc{
		args:        args,
		logger:      klog.FromContext(ctx).WithValues("component", "kalc"),
		tracer:      otel.Tracer(tracerName),
		transitions: transitions,
	}
	for _, opt := range opts {
		opt(k)
	}
	builderOpts := []builder.Option{builder.WithMaxLin(args.MaxLin)}
	if k.recorder != nil {
		builderOpts = append(builderOpts, builder.WithRecorder(k.recorder))
	}
	k.builder = builder.New(klog.NewContext(ctx, k.logger), builderOpts...)
	return k, nil
}

// Args returns the defaulted arguments.
func (k *Kalc) Args() *v1alpha1.KalcArgs {
	return k.args
}

// Warnings returns the recoverable ingestion errors of the session.
func (k *Kalc) Warnings() []error {
	return k.builder.Warnings()
}

// Load ingests a manifest stream.
func (k *Kalc) Load(r io.Reader, mode builder.Mode) error {
	return k.builder.Load(r, mode)
}

// LoadPaths ingests files and directories. "-" reads standard input.
func (k *Kalc) LoadPaths(mode builder.Mode, paths ...string) error {
	for _, path := range paths {
		if path == "-" {
			if err := k.builder.Load(os.Stdin, mode); err != nil {
				return err
			}
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			err = k.builder.LoadDir(path, mode)
		} else {
			err = k.builder.LoadFile(path, mode)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Build links the loaded manifests into a cluster.
func (k *Kalc) Build(ctx context.Context) (*model.Cluster, error) {
	ctx, span := k.tracer.Start(ctx, "build")
	defer span.End()

	c, err := k.builder.Build(klog.NewContext(ctx, k.logger))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("kalc.nodes", len(c.Nodes)),
		attribute.Int("kalc.pods", len(c.Pods)),
		attribute.Int("kalc.warnings", len(k.builder.Warnings())),
	)
	return c, nil
}

// Analysis is the health of a built cluster.
type Analysis struct {
	Cluster     *model.Cluster
	Metrics     metrics.Result
	Fingerprint string
	Warnings    []error
}

// Analyze builds the cluster and computes its metrics. Deployment and
// replica set metrics are written back to the cluster.
func (k *Kalc) Analyze(ctx context.Context) (*Analysis, error) {
	c, err := k.Build(ctx)
	if err != nil {
		return nil, err
	}

	_, span := k.tracer.Start(ctx, "metrics")
	result := metrics.Compute(c)
	metrics.Annotate(c, result)
	span.SetAttributes(attribute.Float64("kalc.composite", result.Composite))
	span.End()

	if !result.OversubscriptionDefined {
		k.logger.Info("No active nodes, oversubscription is undefined")
	}
	k.logger.V(2).Info("Computed metrics",
		"composite", result.Composite,
		"meanFaultTolerance", result.MeanFaultTolerance,
		"worstFaultTolerance", result.WorstFaultTolerance,
		"rmsd", result.Oversubscription.RMSD,
		"md", result.Oversubscription.MD)

	fingerprint, err := script.Fingerprint(c, k.scope())
	if err != nil {
		return nil, err
	}
	return &Analysis{
		Cluster:     c,
		Metrics:     result,
		Fingerprint: fingerprint,
		Warnings:    k.builder.Warnings(),
	}, nil
}

// scope is the part of the live cluster the loaded snapshot stands for.
func (k *Kalc) scope() script.Scope {
	return script.Scope{Namespace: k.args.Scope.Namespace, LabelSelector: k.args.Scope.LabelSelector}
}

// PlanResult is the outcome of a search.
type PlanResult struct {
	// Initial is the built cluster the search started from.
	Initial *model.Cluster
	// Plan is nil when no plan was found.
	Plan  *search.Plan
	Moves []script.Move
	API   *v1alpha1.Plan
}

// Plan searches for the cheapest plan reaching a goal expression, see policy.ParseGoal.
// When no plan exists the result is still returned, along with a *search.PlanNotFoundError.
func (k *Kalc) Plan(ctx context.Context, goalExpr string) (*PlanResult, error) {
	c, err := k.Build(ctx)
	if err != nil {
		return nil, err
	}
	goal, err := policy.ParseGoal(c, goalExpr)
	if err != nil {
		return nil, err
	}
	fingerprint, err := script.Fingerprint(c, k.scope())
	if err != nil {
		return nil, err
	}

	if k.args.SearchTimeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.args.SearchTimeout.Duration)
		defer cancel()
	}
	var observer search.Observer
	if k.recorder != nil {
		observer = k.recorder
	}
	engine := search.New(klog.NewContext(ctx, k.logger), k.transitions, search.Options{
		MaxExpanded: k.args.MaxExpandedStates,
		Workers:     k.args.Workers,
		Costs:       k.args.TransitionCosts,
	}, observer)

	result := &PlanResult{Initial: c}
	plan, err := engine.Search(ctx, c, goal)
	var notFound *search.PlanNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	result.Plan = plan
	if plan != nil {
		result.Moves = moves(c, plan)
	}
	result.API = toAPIPlan(goal.Name, plan, result.Moves, notFound)
	result.API.Spec.Fingerprint = fingerprint
	result.API.Spec.Scope = k.args.Scope
	if notFound != nil {
		return result, notFound
	}
	return result, nil
}

// MoveScript renders the pod moves of a plan as a shell script.
func (k *Kalc) MoveScript(w io.Writer, result *PlanResult) error {
	if result == nil || result.Plan == nil {
		return fmt.Errorf("no plan to render")
	}
	if len(result.Moves) == 0 {
		return fmt.Errorf("plan for %q moves no pods", result.Plan.Goal)
	}
	fingerprint, err := script.Fingerprint(result.Initial, k.scope())
	if err != nil {
		return err
	}
	return script.Render(w, script.Options{
		Goal:        result.Plan.Goal,
		Fingerprint: fingerprint,
		Scope:       k.scope(),
		WaitTimeout: k.args.WaitTimeout.Duration,
	}, result.Moves...)
}

// moves collects the pod migrations of a plan. A pod moved twice keeps the name of its first copy.
func moves(initial *model.Cluster, plan *search.Plan) []script.Move {
	var out []script.Move
	names := map[model.PodID]string{}
	for _, step := range plan.Steps {
		if step.Transition != policy.MovePodToNode {
			continue
		}
		pod, target := model.PodID(step.Binding[0]), model.NodeID(step.Binding[1])
		m := script.MoveFor(initial, pod, target)
		if name, ok := names[pod]; ok {
			m.Pod = name
			m.NewPod = name + script.NewPodSuffix
		}
		names[pod] = m.NewPod
		out = append(out, m)
	}
	return out
}

func toAPIPlan(goal string, plan *search.Plan, moves []script.Move, notFound *search.PlanNotFoundError) *v1alpha1.Plan {
	now := metav1.Now()
	out := &v1alpha1.Plan{
		Spec:   v1alpha1.PlanSpec{Goal: goal},
		Status: v1alpha1.PlanStatus{PlannedAt: &now},
	}
	out.APIVersion = v1alpha1.SchemeGroupVersion.String()
	out.Kind = "Plan"

	if notFound != nil {
		out.Status.Reason = string(notFound.Reason)
		out.Status.ExpandedStates = int64(notFound.Expanded)
		return out
	}

	out.Status.Found = true
	out.Status.ExpandedStates = int64(plan.Expanded)
	out.Spec.Cost = plan.Cost
	out.Spec.Steps = make([]v1alpha1.PlanStep, 0, len(plan.Steps))
	next := 0
	for i, step := range plan.Steps {
		out.Spec.Steps = append(out.Spec.Steps, v1alpha1.PlanStep{
			Transition: step.Transition,
			Args:       append([]string(nil), step.Args...),
			Cost:       step.Cost,
		})
		if step.Transition == policy.MovePodToNode && next < len(moves) {
			m := moves[next]
			out.Spec.Moves = append(out.Spec.Moves, v1alpha1.PodMove{
				PodName:      m.Pod,
				PodNamespace: m.Namespace,
				TargetNode:   m.TargetNode,
				Step:         int32(i),
			})
			next++
		}
	}
	return out
}
