package synthetic_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/kalc-io/kalc/pkg/kalc/builder"
	"github.com/kalc-io/kalc/pkg/kalc/synthetic"
)

func build(t *testing.T, cfg synthetic.Config) (*builder.Builder, *bytes.Buffer) {
	t.Helper()
	var b bytes.Buffer
	if _, err := synthetic.Write(&b, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := bytes.NewBuffer(append([]byte(nil), b.Bytes()...))
	kb := builder.New(context.Background())
	if err := kb.Load(data, builder.ModeLoad); err != nil {
		t.Fatal(err)
	}
	return kb, &b
}

func TestDeterministic(t *testing.T) {
	cfg := synthetic.DefaultConfig()
	_, first := build(t, cfg)
	_, second := build(t, cfg)
	if first.String() != second.String() {
		t.Error("the same seed produced different manifests")
	}
	cfg.Seed = 2
	_, third := build(t, cfg)
	if first.String() == third.String() {
		t.Error("different seeds produced identical manifests")
	}
}

func TestGeneratedClusterBuilds(t *testing.T) {
	scenarios := []struct {
		name string
		cfg  func(*synthetic.Config)
	}{
		{name: "Default", cfg: func(*synthetic.Config) {}},
		{name: "AntiAffinity", cfg: func(c *synthetic.Config) { c.AntiAffinity = true; c.MinReplicas = 3; c.MaxReplicas = 5 }},
		{name: "Pending", cfg: func(c *synthetic.Config) { c.PendingRatio = 0.5; c.Deployments = 4 }},
		{name: "Namespaced", cfg: func(c *synthetic.Config) { c.Namespace = "shop"; c.Nodes = 6 }},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			cfg := synthetic.DefaultConfig()
			tc.cfg(&cfg)
			kb, _ := build(t, cfg)
			c, err := kb.Build(context.Background())
			if err != nil {
				t.Fatalf("unexpected build error: %v", err)
			}
			if len(kb.Warnings()) != 0 {
				t.Errorf("unexpected warnings: %v", kb.Warnings())
			}
			if len(c.Nodes) != cfg.Nodes || len(c.Deployments) != cfg.Deployments || len(c.Services) != cfg.Deployments {
				t.Errorf("built %d nodes, %d deployments, %d services", len(c.Nodes), len(c.Deployments), len(c.Services))
			}
			for _, p := range c.Pods {
				if p.Deployment == -1 || p.Services.Len() != 1 {
					t.Errorf("pod %s is not linked to its deployment and service", p.Key())
				}
			}
			for _, s := range c.Services {
				if cfg.AntiAffinity && (!s.AntiAffinity || s.TargetAmountOfPodsOnDifferentNodes < 2) {
					t.Errorf("service %s lacks its anti-affinity target", s.Key())
				}
			}
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	scenarios := map[string]func(*synthetic.Config){
		"NoNodes":      func(c *synthetic.Config) { c.Nodes = 0 },
		"ReplicaRange": func(c *synthetic.Config) { c.MinReplicas = 4; c.MaxReplicas = 2 },
		"PendingRatio": func(c *synthetic.Config) { c.PendingRatio = 2 },
		"NodeCPU":      func(c *synthetic.Config) { c.NodeCPU = "lots" },
	}
	for name, mutate := range scenarios {
		t.Run(name, func(t *testing.T) {
			cfg := synthetic.DefaultConfig()
			mutate(&cfg)
			if _, err := synthetic.Generate(cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
