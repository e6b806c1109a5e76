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

package search

import "fmt"

// Reason tells why a search ended without a plan.
type Reason string

const (
	ReasonExhausted Reason = "exhausted"
	ReasonBudget    Reason = "budget"
	ReasonCancelled Reason = "cancelled"
)

// PlanNotFoundError is the negative result of a search.
type PlanNotFoundError struct {
	Goal     string
	Reason   Reason
	Expanded int
	Err      error
}

func (e *PlanNotFoundError) Error() string {
	msg := fmt.Sprintf("no plan found for goal %q: %s after %d expanded states", e.Goal, e.Reason, e.Expanded)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlanNotFoundError) Unwrap() error { return e.Err }
