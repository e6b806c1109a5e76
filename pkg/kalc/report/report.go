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


// Package report renders cluster metrics as HTML charts.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/kalc-io/kalc/pkg/kalc/metrics"
)

// Snapshot is one labelled metrics result, e.g. before or after a plan.
type Snapshot struct {
	Label  string
	Result metrics.Result
}

// Render writes an HTML page with the oversubscription and fault tolerance charts of the snapshots.
func Render(w io.Writer, title string, snapshots ...Snapshot) error {
	if len(snapshots) == 0 {
		return fmt.Errorf("no metrics to render")
	}
	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(
		oversubscriptionChart(snapshots),
		faultToleranceChart(snapshots),
		summaryChart(snapshots),
	)
	return page.Render(w)
}

// RenderFile renders to a file.
func RenderFile(path, title string, snapshots ...Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return Render(f, title, snapshots...)
}

func newBar(title, yName string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: yName,
			SplitLine: &opts.SplitLine{
				Show: opts.Bool(true),
			},
		}))
	return bar
}

// oversubscriptionChart plots the average oversubscription of every node seen in any snapshot.
func oversubscriptionChart(snapshots []Snapshot) *charts.Bar {
	bar := newBar("Node oversubscription", "consumption / capacity")
	var names []string
	index := map[string]int{}
	for _, s := range snapshots {
		for _, n := range s.Result.Oversubscription.Nodes {
			if _, ok := index[n.Name]; !ok {
				index[n.Name] = len(names)
				names = append(names, n.Name)
			}
		}
	}
	bar.SetXAxis(names)
	for _, s := range snapshots {
		cpu := make([]opts.BarData, len(names))
		mem := make([]opts.BarData, len(names))
		for _, n := range s.Result.Oversubscription.Nodes {
			cpu[index[n.Name]] = opts.BarData{Value: n.CPU}
			mem[index[n.Name]] = opts.BarData{Value: n.Mem}
		}
		bar.AddSeries(s.Label+" cpu", cpu).AddSeries(s.Label+" memory", mem)
	}
	return bar
}

// faultToleranceChart plots the spread of every deployment, lower is better.
func faultToleranceChart(snapshots []Snapshot) *charts.Bar {
	bar := newBar("Deployment fault tolerance", "sqrt(sum p_i^2)")
	var names []string
	index := map[string]int{}
	for _, s := range snapshots {
		for _, d := range s.Result.Deployments {
			if _, ok := index[d.Name]; !ok {
				index[d.Name] = len(names)
				names = append(names, d.Name)
			}
		}
	}
	bar.SetXAxis(names)
	for _, s := range snapshots {
		data := make([]opts.BarData, len(names))
		for _, d := range s.Result.Deployments {
			data[index[d.Name]] = opts.BarData{Value: d.Square}
		}
		bar.AddSeries(s.Label, data)
	}
	return bar
}

func summaryChart(snapshots []Snapshot) *charts.Bar {
	bar := newBar("Cluster health", "")
	bar.SetXAxis([]string{"RMSD", "MD", "mean fault tolerance", "worst fault tolerance", "mean oversubscription", "composite"})
	for _, s := range snapshots {
		r := s.Result
		values := []float64{
			r.Oversubscription.RMSD,
			r.Oversubscription.MD,
			r.MeanFaultTolerance,
			r.WorstFaultTolerance,
			r.Oversubscription.Mean,
			r.Composite,
		}
		data := make([]opts.BarData, len(values))
		for i, v := range values {
			data[i] = opts.BarData{Value: v}
		}
		bar.AddSeries(s.Label, data)
	}
	return bar
}
