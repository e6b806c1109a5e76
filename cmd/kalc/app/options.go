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


package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/kalc-io/kalc/pkg/api/v1alpha1"
	"github.com/kalc-io/kalc/pkg/kalc"
	"github.com/kalc-io/kalc/pkg/kalc/builder"
	"github.com/kalc-io/kalc/pkg/kalc/observability"
)

// Options are the flags shared by every command.
type Options struct {
	ConfigFile        string
	MaxLin            int
	MaxExpandedStates int
	Workers           int
	SearchTimeout     time.Duration
	Families          []string
	Costs             map[string]string
	WaitTimeout       time.Duration
	ScopeNamespace    string
	ScopeSelector     string

	MetricsFile      string
	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64

	flags *pflag.FlagSet
}

func NewOptions() *Options {
	return &Options{TraceSampleRatio: 1}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.flags = fs
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Path to a KalcArgs file. Flags override its values.")
	fs.IntVar(&o.MaxLin, "max-lin", o.MaxLin, "Bound of normalized quantities and priority ordinals (default $POODLE_MAXLIN or 50).")
	fs.IntVar(&o.MaxExpandedStates, "max-expanded-states", o.MaxExpandedStates, "Search budget in expanded states.")
	fs.IntVar(&o.Workers, "workers", o.Workers, "Workers expanding successor states.")
	fs.DurationVar(&o.SearchTimeout, "search-timeout", o.SearchTimeout, "Cancel a search running longer.")
	fs.StringSliceVar(&o.Families, "family", o.Families, "Transition families to search with (antiaffinity, move, schedule).")
	fs.StringToStringVar(&o.Costs, "cost", o.Costs, "Transition cost overrides, e.g. drain_node=3.")
	fs.DurationVar(&o.WaitTimeout, "wait-timeout", o.WaitTimeout, "Readiness wait of a moved pod in generated scripts.")
	fs.StringVar(&o.ScopeNamespace, "scope-namespace", o.ScopeNamespace, "Namespace the snapshot was dumped from. Scripts fingerprint only its pods.")
	fs.StringVar(&o.ScopeSelector, "scope-selector", o.ScopeSelector, "Label selector the snapshot was dumped with. Scripts fingerprint only matching pods.")
	fs.StringVar(&o.MetricsFile, "metrics-file", o.MetricsFile, "Write Prometheus metrics to this file on exit.")
	fs.StringVar(&o.OTLPEndpoint, "otlp-endpoint", o.OTLPEndpoint, "OTLP gRPC endpoint receiving traces. Tracing is off when empty.")
	fs.BoolVar(&o.OTLPInsecure, "otlp-insecure", o.OTLPInsecure, "Connect to the OTLP endpoint without TLS.")
	fs.Float64Var(&o.TraceSampleRatio, "trace-sample-ratio", o.TraceSampleRatio, "Fraction of traces sampled.")
}

func (o *Options) changed(name string) bool {
	return o.flags != nil && o.flags.Changed(name)
}

// KalcArgs loads the config file and applies the flags set on the command line.
func (o *Options) KalcArgs() (*v1alpha1.KalcArgs, error) {
	args := &v1alpha1.KalcArgs{}
	if o.ConfigFile != "" {
		loaded, err := v1alpha1.LoadKalcArgs(o.ConfigFile)
		if err != nil {
			return nil, err
		}
		args = loaded
	}
	if o.changed("max-lin") {
		args.MaxLin = o.MaxLin
	}
	if o.changed("max-expanded-states") {
		args.MaxExpandedStates = o.MaxExpandedStates
	}
	if o.changed("workers") {
		args.Workers = o.Workers
	}
	if o.changed("search-timeout") {
		args.SearchTimeout.Duration = o.SearchTimeout
	}
	if o.changed("family") {
		args.EnabledFamilies = o.Families
	}
	if o.changed("wait-timeout") {
		args.WaitTimeout.Duration = o.WaitTimeout
	}
	if o.changed("scope-namespace") {
		args.Scope.Namespace = o.ScopeNamespace
	}
	if o.changed("scope-selector") {
		args.Scope.LabelSelector = o.ScopeSelector
	}
	if len(o.Costs) > 0 {
		if args.TransitionCosts == nil {
			args.TransitionCosts = map[string]float64{}
		}
		for name, value := range o.Costs {
			cost, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid cost for %s: %w", name, err)
			}
			args.TransitionCosts[name] = cost
		}
	}
	v1alpha1.Scheme.Default(args)
	if err := v1alpha1.ValidateKalcArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}

// session is a Kalc with its observability wired. close flushes traces and metrics.
type session struct {
	*kalc.Kalc
	close func() error
}

func (o *Options) newSession(ctx context.Context, mode builder.Mode, paths []string) (*session, error) {
	args, err := o.KalcArgs()
	if err != nil {
		return nil, err
	}
	shutdown, err := observability.InitTracing(ctx, observability.TracingOptions{
		Endpoint:    o.OTLPEndpoint,
		Insecure:    o.OTLPInsecure,
		SampleRatio: o.TraceSampleRatio,
	})
	if err != nil {
		return nil, err
	}
	recorder := observability.NewRecorder()
	k, err := kalc.New(ctx, args, kalc.WithRecorder(recorder))
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	if err := k.LoadPaths(mode, paths...); err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	return &session{
		Kalc: k,
		close: func() error {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				klog.FromContext(ctx).Error(err, "Flushing traces failed")
			}
			if o.MetricsFile != "" {
				return recorder.WriteTextfile(o.MetricsFile)
			}
			return nil
		},
	}, nil
}
