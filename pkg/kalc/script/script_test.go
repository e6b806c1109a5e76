package script

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalc-io/kalc/pkg/kalc/model"
)

func testCluster() *model.Cluster {
	c := model.NewCluster()
	c.AddNode(&model.Node{ObjectMeta: model.ObjectMeta{Name: "node-0"}})
	c.AddNode(&model.Node{ObjectMeta: model.ObjectMeta{Name: "node-1"}})
	d := c.AddDeployment(&model.Deployment{ObjectMeta: model.ObjectMeta{Name: "web", Namespace: "default"}})
	rs := c.AddReplicaSet(&model.ReplicaSet{ObjectMeta: model.ObjectMeta{Name: "web-5d8f", Namespace: "default"}, Deployment: d})
	c.AddPod(&model.Pod{ObjectMeta: model.ObjectMeta{Name: "web-a", Namespace: "default", Labels: map[string]string{"app": "web"}}, AtNode: 0, ReplicaSet: rs, Deployment: d})
	c.AddPod(&model.Pod{ObjectMeta: model.ObjectMeta{Name: "cache-b", Namespace: "tools"}, AtNode: 1, ReplicaSet: rs, Deployment: model.None})
	c.AddPod(&model.Pod{ObjectMeta: model.ObjectMeta{Name: "bare", Namespace: "tools"}, AtNode: model.None, ReplicaSet: model.None, Deployment: model.None})
	return c
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestFingerprint(t *testing.T) {
	c := testCluster()
	scenarios := []struct {
		name     string
		scope    Scope
		expected string
	}{
		{
			name:     "AllNamespaces",
			expected: md5Hex("default/web-a node-0\ntools/bare \ntools/cache-b node-1\n"),
		},
		{
			name:     "Namespace",
			scope:    Scope{Namespace: "tools"},
			expected: md5Hex("tools/bare \ntools/cache-b node-1\n"),
		},
		{
			name:     "LabelSelector",
			scope:    Scope{LabelSelector: "app=web"},
			expected: md5Hex("default/web-a node-0\n"),
		},
		{
			name:     "NamespaceAndSelector",
			scope:    Scope{Namespace: "tools", LabelSelector: "app=web"},
			expected: md5Hex(""),
		},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Fingerprint(c, tc.scope)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("fingerprint = %s, want %s", got, tc.expected)
			}
		})
	}

	if _, err := Fingerprint(c, Scope{LabelSelector: "app in ("}); err == nil {
		t.Error("expected an error for an invalid selector")
	}

	before, _ := Fingerprint(c, Scope{})
	moved := c.Clone()
	moved.MutablePod(0).AtNode = 1
	if after, _ := Fingerprint(moved, Scope{}); after == before {
		t.Error("fingerprint should change when a pod moves")
	}
}

func TestScopeFingerprintCommand(t *testing.T) {
	scenarios := []struct {
		name     string
		scope    Scope
		expected string
	}{
		{name: "Cluster", expected: DefaultFingerprintCommand},
		{name: "Namespace", scope: Scope{Namespace: "shop"}, expected: "kubectl get pods -n 'shop' -o jsonpath="},
		{name: "Selector", scope: Scope{LabelSelector: "tier=api"}, expected: "kubectl get pods --all-namespaces -l 'tier=api' -o jsonpath="},
		{name: "Both", scope: Scope{Namespace: "shop", LabelSelector: "tier=api"}, expected: "kubectl get pods -n 'shop' -l 'tier=api' -o jsonpath="},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.scope.FingerprintCommand()
			if !strings.HasPrefix(got, tc.expected) {
				t.Errorf("command = %s, want prefix %s", got, tc.expected)
			}
			if !strings.HasSuffix(got, "| LC_ALL=C sort | md5sum | awk '{print $1}'") {
				t.Errorf("command %s does not digest the placements", got)
			}
		})
	}
}

func TestRenderScopedPlan(t *testing.T) {
	var b bytes.Buffer
	move := Move{Namespace: "shop", Pod: "api-1", NewPod: "api-1-moved", TargetNode: "node-1"}
	if err := Render(&b, Options{Fingerprint: "abc", Scope: Scope{Namespace: "shop"}}, move); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := b.String()
	if !strings.Contains(out, "CURRENT_STATE=$(kubectl get pods -n 'shop' -o jsonpath=") {
		t.Errorf("live fingerprint is not limited to the namespace:\n%s", out)
	}
	if strings.Contains(out, "--all-namespaces") {
		t.Error("a namespaced plan must not fingerprint every namespace")
	}
}

func TestMoveFor(t *testing.T) {
	c := testCluster()
	scenarios := []struct {
		name     string
		pod      model.PodID
		expected Move
	}{
		{
			name:     "DeploymentOwned",
			pod:      0,
			expected: Move{Namespace: "default", Pod: "web-a", NewPod: "web-a" + NewPodSuffix, TargetNode: "node-1", ReplicaSet: "web-5d8f", Deployment: "web"},
		},
		{
			name:     "ReplicaSetOnly",
			pod:      1,
			expected: Move{Namespace: "tools", Pod: "cache-b", NewPod: "cache-b" + NewPodSuffix, TargetNode: "node-1", ReplicaSet: "web-5d8f"},
		},
		{
			name:     "Bare",
			pod:      2,
			expected: Move{Namespace: "tools", Pod: "bare", NewPod: "bare" + NewPodSuffix, TargetNode: "node-1"},
		},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.expected, MoveFor(c, tc.pod, 1)); diff != "" {
				t.Errorf("move mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenderVariants(t *testing.T) {
	scenarios := []struct {
		name        string
		move        Move
		contains    []string
		notContains []string
	}{
		{
			name: "DeploymentOwned",
			move: Move{Namespace: "default", Pod: "web-a", NewPod: "web-a-moved", TargetNode: "node-1", ReplicaSet: "web-5d8f", Deployment: "web"},
			contains: []string{
				"kubectl delete deployment 'web' -n 'default' --cascade=orphan &&",
				"kubectl delete replicaset 'web-5d8f' -n 'default' --cascade=orphan &&",
				"yq w - spec.nodeName 'node-1'",
				"yq w - metadata.name 'web-a-moved'",
				"kubectl delete pod 'web-a' -n 'default' &&\nkubectl apply -f \"$BACKUP_DIR/replicaset.json\" &&\nkubectl apply -f \"$BACKUP_DIR/deployment.json\" || die",
			},
		},
		{
			name: "ReplicaSetOnly",
			move: Move{Namespace: "default", Pod: "web-a", NewPod: "web-a-moved", TargetNode: "node-1", ReplicaSet: "web-5d8f"},
			contains: []string{
				"kubectl delete replicaset 'web-5d8f' -n 'default' --cascade=orphan &&",
				"kubectl apply -f \"$BACKUP_DIR/replicaset.json\" || die",
			},
			notContains: []string{"kubectl get deployment", "deployment.json"},
		},
		{
			name: "Bare",
			move: Move{Namespace: "default", Pod: "web-a", NewPod: "web-a-moved", TargetNode: "node-1"},
			contains: []string{
				"kubectl delete pod 'web-a' -n 'default' || die",
			},
			notContains: []string{"--cascade=orphan", "replicaset.json", "deployment.json"},
		},
	}

	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			var b bytes.Buffer
			if err := Render(&b, Options{Goal: "drain:node-0", Fingerprint: "abc"}, tc.move); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out := b.String()
			common := []string{
				"#!/bin/bash\n",
				"set -o pipefail",
				"die() {",
				"for tool in kubectl jq yq sed awk md5sum; do",
				"kubectl auth can-i \"$verb\" \"$resource\" -n 'default'",
				"EXPECTED_STATE='abc'",
				"CURRENT_STATE=$(" + DefaultFingerprintCommand + ")",
				"--for=condition=Ready --timeout=300s &&",
				"(yes/no)",
				"Done.",
			}
			for _, s := range append(common, tc.contains...) {
				if !strings.Contains(out, s) {
					t.Errorf("script does not contain %q:\n%s", s, out)
				}
			}
			for _, s := range tc.notContains {
				if strings.Contains(out, s) {
					t.Errorf("script should not contain %q", s)
				}
			}
			if !strings.HasPrefix(out, "#!/bin/bash") {
				t.Error("script must start with a shebang")
			}
		})
	}
}

func TestRenderOptions(t *testing.T) {
	moves := []Move{
		{Namespace: "tools", Pod: "a", NewPod: "a-moved", TargetNode: "n1"},
		{Namespace: "default", Pod: "b", NewPod: "b-moved", TargetNode: "n2"},
		{Namespace: "tools", Pod: "c", NewPod: "c-moved", TargetNode: "n1"},
	}
	var b bytes.Buffer
	err := Render(&b, Options{Fingerprint: "x", FingerprintCommand: "echo x", WaitTimeout: 90 * time.Second}, moves...)
	if err != nil {
		t.Fatal(err)
	}
	out := b.String()
	if !strings.Contains(out, "CURRENT_STATE=$(echo x)") {
		t.Error("custom fingerprint command not used")
	}
	if strings.Count(out, "--timeout=90s") != 3 {
		t.Error("expected the wait timeout on every move")
	}
	if strings.Count(out, "kubectl auth can-i") != 2 {
		t.Error("expected one permission block per namespace")
	}
	if strings.Index(out, "-n 'default' >/dev/null") > strings.Index(out, "-n 'tools' >/dev/null") {
		t.Error("namespaces should be checked in sorted order")
	}
	if !(strings.Index(out, "# Move tools/a") < strings.Index(out, "# Move default/b") && strings.Index(out, "# Move default/b") < strings.Index(out, "# Move tools/c")) {
		t.Error("moves must keep plan order")
	}
}

func TestRenderRejects(t *testing.T) {
	var b bytes.Buffer
	if err := Render(&b, Options{}); err == nil {
		t.Error("expected an error without moves")
	}
	if err := Render(&b, Options{}, Move{Namespace: "default", Pod: "a"}); err == nil {
		t.Error("expected an error for a move without a target")
	}
}

func TestQuote(t *testing.T) {
	if got := quote("it's"); got != `'it'"'"'s'` {
		t.Errorf("quote = %s", got)
	}
}
