package v1alpha1

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestSetDefaults(t *testing.T) {
	t.Setenv(MaxLinEnv, "")
	args := &KalcArgs{}
	Scheme.Default(args)
	expected := &KalcArgs{
		TypeMeta:          metav1.TypeMeta{APIVersion: "kalc.io/v1alpha1", Kind: "KalcArgs"},
		MaxLin:            50,
		MaxExpandedStates: 100000,
		Workers:           1,
		SearchTimeout:     metav1.Duration{Duration: time.Minute},
		EnabledFamilies:   []string{"antiaffinity", "move", "schedule"},
		WaitTimeout:       metav1.Duration{Duration: 5 * time.Minute},
	}
	if diff := cmp.Diff(expected, args); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxLinEnv(t *testing.T) {
	scenarios := []struct {
		name     string
		env      string
		maxLin   int
		expected int
	}{
		{name: "FromEnv", env: "80", expected: 80},
		{name: "ExplicitWins", env: "80", maxLin: 20, expected: 20},
		{name: "InvalidEnv", env: "lots", expected: DefaultMaxLin},
		{name: "NegativeEnv", env: "-3", expected: DefaultMaxLin},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(MaxLinEnv, tc.env)
			args := &KalcArgs{MaxLin: tc.maxLin}
			SetDefaults_KalcArgs(args)
			if args.MaxLin != tc.expected {
				t.Errorf("maxLin = %d, want %d", args.MaxLin, tc.expected)
			}
		})
	}
}

func TestValidateKalcArgs(t *testing.T) {
	scenarios := []struct {
		name   string
		mutate func(*KalcArgs)
		errMsg string
	}{
		{name: "Defaults", mutate: func(*KalcArgs) {}},
		{name: "MaxLinTooSmall", mutate: func(a *KalcArgs) { a.MaxLin = 1 }, errMsg: "maxLin"},
		{name: "NegativeBudget", mutate: func(a *KalcArgs) { a.MaxExpandedStates = -1 }, errMsg: "maxExpandedStates"},
		{name: "NegativeWorkers", mutate: func(a *KalcArgs) { a.Workers = -2 }, errMsg: "workers"},
		{name: "NegativeTimeout", mutate: func(a *KalcArgs) { a.SearchTimeout.Duration = -time.Second }, errMsg: "searchTimeout"},
		{name: "NegativeCost", mutate: func(a *KalcArgs) { a.TransitionCosts = map[string]float64{"drain_node": -1} }, errMsg: "transitionCosts[drain_node]"},
		{name: "ZeroCost", mutate: func(a *KalcArgs) { a.TransitionCosts = map[string]float64{"drain_node": 0} }},
		{name: "DuplicateFamily", mutate: func(a *KalcArgs) { a.EnabledFamilies = []string{"move", "move"} }, errMsg: "enabledFamilies[1]"},
		{name: "Scope", mutate: func(a *KalcArgs) { a.Scope = SnapshotScope{Namespace: "shop", LabelSelector: "tier in (api,web)"} }},
		{name: "InvalidScopeNamespace", mutate: func(a *KalcArgs) { a.Scope.Namespace = "Shop_1" }, errMsg: "scope.namespace"},
		{name: "InvalidScopeSelector", mutate: func(a *KalcArgs) { a.Scope.LabelSelector = "tier in (" }, errMsg: "scope.labelSelector"},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(MaxLinEnv, "")
			args := &KalcArgs{}
			SetDefaults_KalcArgs(args)
			tc.mutate(args)
			err := ValidateKalcArgs(args)
			if tc.errMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("expected an error mentioning %q, got %v", tc.errMsg, err)
			}
		})
	}
}

func TestLoadKalcArgs(t *testing.T) {
	t.Setenv(MaxLinEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "kalc.yaml")
	config := `apiVersion: kalc.io/v1alpha1
kind: KalcArgs
maxLin: 40
workers: 4
searchTimeout: 10s
transitionCosts:
  drain_node: 3
enabledFamilies:
- move
`
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	args, err := LoadKalcArgs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args.MaxLin != 40 || args.Workers != 4 || args.SearchTimeout.Duration != 10*time.Second {
		t.Errorf("unexpected args: %+v", args)
	}
	if args.MaxExpandedStates != DefaultMaxExpandedStates {
		t.Errorf("maxExpandedStates not defaulted: %d", args.MaxExpandedStates)
	}
	if diff := cmp.Diff([]string{"move"}, args.EnabledFamilies); diff != "" {
		t.Errorf("families mismatch (-want +got):\n%s", diff)
	}

	defaults, err := LoadKalcArgs("")
	if err != nil {
		t.Fatal(err)
	}
	if defaults.MaxLin != DefaultMaxLin {
		t.Errorf("maxLin = %d, want %d", defaults.MaxLin, DefaultMaxLin)
	}
}

func TestDecodeKalcArgsRejects(t *testing.T) {
	scenarios := map[string]string{
		"UnknownField": "maxLn: 40\n",
		"WrongKind":    "apiVersion: kalc.io/v1alpha1\nkind: Plan\n",
		"WrongVersion": "apiVersion: kalc.io/v2\nkind: KalcArgs\n",
		"Invalid":      "workers: -1\n",
	}
	for name, data := range scenarios {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeKalcArgs([]byte(data)); err == nil {
				t.Errorf("expected an error decoding %q", data)
			}
		})
	}
}

func TestPlanDeepCopy(t *testing.T) {
	now := metav1.Now()
	plan := &Plan{
		Spec: PlanSpec{
			Goal:  "drain:node-0",
			Steps: []PlanStep{{Transition: "drain_node", Args: []string{"node-0"}, Cost: 1}},
		},
		Status: PlanStatus{Found: true, PlannedAt: &now},
	}
	c := plan.DeepCopy()
	c.Spec.Steps[0].Args[0] = "node-1"
	if plan.Spec.Steps[0].Args[0] != "node-0" {
		t.Error("deep copy shares step arguments")
	}
	if c.Status.PlannedAt == plan.Status.PlannedAt {
		t.Error("deep copy shares the planning time")
	}
}
