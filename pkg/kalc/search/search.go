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

// Package search finds the cheapest sequence of guarded transitions from a cluster
// state to a state satisfying a goal.
//
// States are copy-on-write clones of the cluster. The frontier is ordered by
// accumulated cost and a state is only expanded from its cheapest known path.
// With more than one worker, guard evaluation and successor construction of
// each expanded state are spread over goroutines; frontier order stays the same.
package search

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/kalc-io/kalc/pkg/kalc/model"
)

const tracerName = "github.com/kalc-io/kalc/pkg/kalc/search"

// Result labels reported to the Observer.
const ResultFound = "found"

// Options bound the search.
type Options struct {
	// MaxExpanded stops the search after this many expanded states. 0 means unbounded.
	MaxExpanded int
	// Workers evaluating successors of one state. Values below 2 run sequentially.
	Workers int
	// Costs overrides transition costs by name.
	Costs map[string]float64
}

// Observer receives search statistics.
type Observer interface {
	ObserveExpanded(states int)
	ObservePlan(result string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveExpanded(int)                {}
func (noopObserver) ObservePlan(string, time.Duration) {}

// Engine runs searches over a fixed set of transitions.
type Engine struct {
	logger      klog.Logger
	transitions []Transition
	opts        Options
	observer    Observer
	tracer      trace.Tracer
}

// New returns an engine. A nil observer discards statistics.
func New(ctx context.Context, transitions []Transition, opts Options, observer Observer) *Engine {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Engine{
		logger:      klog.FromContext(ctx).WithValues("component", "search"),
		transitions: transitions,
		opts:        opts,
		observer:    observer,
		tracer:      otel.Tracer(tracerName),
	}
}

func (e *Engine) cost(t *Transition) float64 {
	if v, ok := e.opts.Costs[t.Name]; ok && v >= 0 {
		return v
	}
	if t.Cost > 0 {
		return t.Cost
	}
	return DefaultCost
}

// Search returns the cheapest plan from initial to a state satisfying goal.
// The initial cluster is never modified. A search that ends without a plan returns a *PlanNotFoundError.
func (e *Engine) Search(ctx context.Context, initial *model.Cluster, goal Goal) (*Plan, error) {
	ctx, span := e.tracer.Start(ctx, "search", trace.WithAttributes(
		attribute.String("kalc.goal", goal.Name),
		attribute.Int("kalc.transitions", len(e.transitions)),
		attribute.Int("kalc.max_expanded", e.opts.MaxExpanded),
	))
	defer span.End()
	logger := klog.FromContext(klog.NewContext(ctx, e.logger)).WithValues("goal", goal.Name)
	start := time.Now()

	// The engine clones from its own root so that the caller's cluster keeps its ownership.
	root := &node{cluster: initial.Clone()}
	root.key = root.cluster.StateKey()

	open := &frontier{root}
	best := map[string]float64{root.key: 0}
	seq := 0
	expanded := 0

	fail := func(reason Reason, err error) (*Plan, error) {
		e.observer.ObserveExpanded(expanded)
		e.observer.ObservePlan(string(reason), time.Since(start))
		span.SetAttributes(attribute.Int("kalc.expanded", expanded), attribute.String("kalc.result", string(reason)))
		span.SetStatus(codes.Error, string(reason))
		logger.Info("No plan found", "reason", reason, "expanded", expanded, "duration", time.Since(start))
		return nil, &PlanNotFoundError{Goal: goal.Name, Reason: reason, Expanded: expanded, Err: err}
	}

	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return fail(ReasonCancelled, err)
		}
		n := heap.Pop(open).(*node)
		if n.cost > best[n.key] {
			continue
		}
		if goal.Satisfied(n.cluster) {
			plan := e.plan(goal, n, expanded)
			e.observer.ObserveExpanded(expanded)
			e.observer.ObservePlan(ResultFound, time.Since(start))
			span.SetAttributes(attribute.Int("kalc.expanded", expanded), attribute.Int("kalc.steps", len(plan.Steps)), attribute.String("kalc.result", ResultFound))
			logger.Info("Plan found", "steps", len(plan.Steps), "cost", plan.Cost, "expanded", expanded, "duration", time.Since(start))
			return plan, nil
		}
		if e.opts.MaxExpanded > 0 && expanded >= e.opts.MaxExpanded {
			return fail(ReasonBudget, nil)
		}
		expanded++

		children := e.expand(n)
		pushed := 0
		for _, child := range children {
			if known, ok := best[child.key]; ok && known <= child.cost {
				continue
			}
			best[child.key] = child.cost
			seq++
			child.seq = seq
			heap.Push(open, child)
			pushed++
		}
		if logger.V(4).Enabled() {
			logger.V(4).Info("Expanded state", "cost", n.cost, "successors", len(children), "new", pushed, "frontier", open.Len())
		}
	}
	return fail(ReasonExhausted, nil)
}

// expand builds every successor of n. Successors are returned in transition then binding order.
func (e *Engine) expand(n *node) []*node {
	// Guards only read the parent, so they run concurrently.
	actions := make([][]Binding, len(e.transitions))
	e.parallel(len(e.transitions), func(i int) {
		actions[i] = e.bindings(n.cluster, &e.transitions[i])
	})

	// Clone changes the parent's ownership stamp, so cloning stays sequential.
	var children []*node
	for i, bindings := range actions {
		stepCost := e.cost(&e.transitions[i])
		for _, b := range bindings {
			children = append(children, &node{
				cluster:    n.cluster.Clone(),
				cost:       n.cost + stepCost,
				parent:     n,
				transition: i,
				binding:    b,
				stepCost:   stepCost,
			})
		}
	}

	// Each child writes only to its own clone.
	e.parallel(len(children), func(i int) {
		child := children[i]
		e.transitions[child.transition].Apply(child.cluster, child.binding)
		child.key = child.cluster.StateKey()
	})
	return children
}

// bindings enumerates the parameter assignments of t accepted by its guard.
func (e *Engine) bindings(c *model.Cluster, t *Transition) []Binding {
	var out []Binding
	bound := make(Binding, 0, len(t.Params))
	var walk func(i int)
	walk = func(i int) {
		if i == len(t.Params) {
			if t.Guard == nil || t.Guard(c, bound) {
				out = append(out, append(Binding(nil), bound...))
			}
			return
		}
		for _, id := range t.Params[i].domain(c, bound) {
			bound = append(bound, id)
			walk(i + 1)
			bound = bound[:len(bound)-1]
		}
	}
	walk(0)
	return out
}

// parallel runs fn for 0..n-1 on the configured number of workers.
func (e *Engine) parallel(n int, fn func(i int)) {
	workers := min(e.opts.Workers, n)
	if workers < 2 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	work := make(chan int, n)
	wg := &sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		work <- i
	}
	close(work)
	wg.Wait()
}

func (e *Engine) plan(goal Goal, last *node, expanded int) *Plan {
	var steps []Step
	for n := last; n.parent != nil; n = n.parent {
		t := &e.transitions[n.transition]
		args := make([]string, len(n.binding))
		for i, id := range n.binding {
			args[i] = ObjectName(n.parent.cluster, t.Params[i].Kind, id)
		}
		steps = append(steps, Step{Transition: t.Name, Args: args, Binding: n.binding, Cost: n.stepCost})
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return &Plan{
		Goal:     goal.Name,
		Steps:    steps,
		Cost:     last.cost,
		Expanded: expanded,
		Final:    last.cluster,
	}
}
