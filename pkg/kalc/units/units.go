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

// Package units maps Kubernetes resource quantities and priority values onto
// the small dense integer ranges the planner searches over.
package units

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

// DefaultMaxLin bounds every normalized quantity and priority ordinal.
const DefaultMaxLin = 50

// ParseError reports a quantity string that could not be parsed.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid quantity %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConfigurationError reports a setup-time condition the bounded search space cannot represent.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ConvertCPU parses a CPU quantity ("500m", "2", "1.5") into millicores.
func ConvertCPU(quantity string) (int64, error) {
	q, err := parse(quantity, quantity)
	if err != nil {
		return 0, err
	}
	return q.MilliValue(), nil
}

// ConvertMem parses a memory quantity ("128Mi", "2G", "1024") into bytes.
// The uppercase "K" suffix is accepted as an alias of the decimal "k".
func ConvertMem(quantity string) (int64, error) {
	s := strings.TrimSpace(quantity)
	if strings.HasSuffix(s, "K") {
		s = strings.TrimSuffix(s, "K") + "k"
	}
	q, err := parse(quantity, s)
	if err != nil {
		return 0, err
	}
	return q.Value(), nil
}

func parse(quantity, s string) (resource.Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return resource.Quantity{}, &ParseError{Value: quantity, Err: fmt.Errorf("empty quantity")}
	}
	if !hasNumericPrefix(s) {
		return resource.Quantity{}, &ParseError{Value: quantity, Err: fmt.Errorf("missing numeric value")}
	}
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return resource.Quantity{}, &ParseError{Value: quantity, Err: err}
	}
	if q.Sign() < 0 {
		return resource.Quantity{}, &ParseError{Value: quantity, Err: fmt.Errorf("negative quantity")}
	}
	return q, nil
}

// hasNumericPrefix reports whether s starts with an optionally signed decimal
// number holding at least one digit. resource.ParseQuantity reads a bare suffix
// such as "m" or "Gi" as zero.
func hasNumericPrefix(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		digits++
	}
	if i < len(s) && s[i] == '.' {
		for i++; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			digits++
		}
	}
	return digits > 0
}

// ComputeDivisors returns divisors that bring the observed maxima into [0, maxLin/2].
// The division rounds up so that max/divisor never exceeds the bound; both divisors are at least 1.
func ComputeDivisors(maxCPU, maxMem int64, maxLin int) (cpuDivisor, memDivisor int64) {
	return divisor(maxCPU, maxLin), divisor(maxMem, maxLin)
}

func divisor(maxValue int64, maxLin int) int64 {
	half := int64(maxLin / 2)
	if half < 1 {
		half = 1
	}
	if maxValue <= 0 {
		return 1
	}
	d := (maxValue + half - 1) / half
	if d < 1 {
		return 1
	}
	return d
}

// BuildPriorityMapping assigns the distinct raw priority values dense ordinals 1..N in ascending order.
func BuildPriorityMapping(values []int32, maxLin int) (map[int32]int, error) {
	distinct := make(map[int32]struct{}, len(values))
	for _, v := range values {
		distinct[v] = struct{}{}
	}
	if len(distinct) > maxLin {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("%d distinct priority classes exceed the search bound of %d", len(distinct), maxLin),
		}
	}

	sorted := make([]int32, 0, len(distinct))
	for v := range distinct {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mapping := make(map[int32]int, len(sorted))
	for i, v := range sorted {
		mapping[v] = i + 1
	}
	return mapping, nil
}

// Context carries the scaling constants computed for one builder session.
type Context struct {
	MaxLin     int
	CPUDivisor int64
	MemDivisor int64
	Priorities map[int32]int
}

// NewContext computes a normalization context from the observed maxima and priority values.
func NewContext(maxLin int, maxCPU, maxMem int64, priorities []int32) (Context, error) {
	if maxLin <= 0 {
		return Context{}, &ConfigurationError{Reason: fmt.Sprintf("maxLin must be positive, got %d", maxLin)}
	}
	mapping, err := BuildPriorityMapping(priorities, maxLin)
	if err != nil {
		return Context{}, err
	}
	cpuDiv, memDiv := ComputeDivisors(maxCPU, maxMem, maxLin)
	return Context{
		MaxLin:     maxLin,
		CPUDivisor: cpuDiv,
		MemDivisor: memDiv,
		Priorities: mapping,
	}, nil
}

// CPU scales millicores into the normalized range.
func (c Context) CPU(millicores int64) int64 {
	return millicores / nonZero(c.CPUDivisor)
}

// Mem scales bytes into the normalized range.
func (c Context) Mem(bytes int64) int64 {
	return bytes / nonZero(c.MemDivisor)
}

// Priority returns the ordinal for a raw priority value, or 0 when the value is unknown.
func (c Context) Priority(raw int32) int {
	return c.Priorities[raw]
}

func nonZero(d int64) int64 {
	if d < 1 {
		return 1
	}
	return d
}
