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

// Package policy defines the transition families and goals the planner searches with.
package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kalc-io/kalc/pkg/kalc/model"
	"github.com/kalc-io/kalc/pkg/kalc/search"
)

const (
	FamilyAntiAffinity = "antiaffinity"
	FamilyMove         = "move"
	FamilySchedule     = "schedule"
)

// Families lists every transition family in registration order.
var Families = []string{FamilyAntiAffinity, FamilyMove, FamilySchedule}

var families = map[string]func() []search.Transition{
	FamilyAntiAffinity: AntiAffinityTransitions,
	FamilyMove:         MoveTransitions,
	FamilySchedule:     ScheduleTransitions,
}

// Transitions returns the transitions of the named families. No names means every family.
func Transitions(names ...string) ([]search.Transition, error) {
	if len(names) == 0 {
		names = Families
	}
	var out []search.Transition
	seen := map[string]bool{}
	for _, name := range names {
		build, ok := families[name]
		if !ok {
			return nil, fmt.Errorf("unknown transition family %q", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, build()...)
	}
	return out, nil
}

// TransitionNames returns the name of every transition of every family.
func TransitionNames() []string {
	all, _ := Transitions()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Name
	}
	return names
}

// splitKey accepts namespace/name or a bare name in the default namespace.
func splitKey(key string) (string, string) {
	if ns, name, ok := strings.Cut(key, "/"); ok {
		return ns, name
	}
	return "default", key
}

func lookupService(c *model.Cluster, key string) (model.ServiceID, error) {
	ns, name := splitKey(key)
	id, ok := c.ServiceByKey(ns, name)
	if !ok {
		return 0, fmt.Errorf("service %s/%s not found", ns, name)
	}
	return id, nil
}

// ServiceSpread is reached when n pods of the service are recorded on distinct nodes.
func ServiceSpread(c *model.Cluster, service string, n int) (search.Goal, error) {
	if n < MinSpread || n > MaxSpread {
		return search.Goal{}, fmt.Errorf("spread of %d pods is outside %d..%d", n, MinSpread, MaxSpread)
	}
	id, err := lookupService(c, service)
	if err != nil {
		return search.Goal{}, err
	}
	return search.Goal{
		Name: fmt.Sprintf("spread:%s:%d", c.Services[id].Key(), n),
		Satisfied: func(c *model.Cluster) bool {
			return c.Services[id].AmountOfPodsOnDifferentNodes >= n
		},
	}, nil
}

// AntiAffinityMet is reached when the service's preferred anti-affinity policy is met.
func AntiAffinityMet(c *model.Cluster, service string) (search.Goal, error) {
	id, err := lookupService(c, service)
	if err != nil {
		return search.Goal{}, err
	}
	return search.Goal{
		Name: "antiaffinity:" + c.Services[id].Key(),
		Satisfied: func(c *model.Cluster) bool {
			return c.Services[id].AntiAffinityPreferedPolicyMet
		},
	}, nil
}

// AntiAffinityEnabled is reached when the cluster-wide anti-affinity flag is set.
func AntiAffinityEnabled() search.Goal {
	return search.Goal{
		Name: "antiaffinity-enabled",
		Satisfied: func(c *model.Cluster) bool {
			return c.Global.AntiAffinityPreferedPolicyMet
		},
	}
}

// NodeDrained is reached when the node is inactive and no pod counts against it.
func NodeDrained(c *model.Cluster, node string) (search.Goal, error) {
	id, ok := c.NodeByName(node)
	if !ok {
		return search.Goal{}, fmt.Errorf("node %s not found", node)
	}
	return search.Goal{
		Name: "drain:" + node,
		Satisfied: func(c *model.Cluster) bool {
			return c.Nodes[id].Status == model.NodeInactive && len(consumingPodsOn(c, id)) == 0
		},
	}, nil
}

// NodesWithinCapacity is reached when no active node is oversubscribed.
func NodesWithinCapacity() search.Goal {
	return search.Goal{Name: "capacity", Satisfied: WithinCapacity}
}

// ParseGoal reads a goal expression:
//
//	spread:<service>:<n>
//	antiaffinity:<service>
//	antiaffinity-enabled
//	drain:<node>
//	capacity
//
// Services are namespace/name or a name in the default namespace.
func ParseGoal(c *model.Cluster, expr string) (search.Goal, error) {
	parts := strings.Split(expr, ":")
	switch {
	case parts[0] == "spread" && len(parts) == 3:
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return search.Goal{}, fmt.Errorf("goal %q: invalid pod count: %w", expr, err)
		}
		return ServiceSpread(c, parts[1], n)
	case parts[0] == "antiaffinity" && len(parts) == 2:
		return AntiAffinityMet(c, parts[1])
	case parts[0] == "antiaffinity-enabled" && len(parts) == 1:
		return AntiAffinityEnabled(), nil
	case parts[0] == "drain" && len(parts) == 2:
		return NodeDrained(c, parts[1])
	case parts[0] == "capacity" && len(parts) == 1:
		return NodesWithinCapacity(), nil
	}
	return search.Goal{}, fmt.Errorf("unknown goal %q", expr)
}
