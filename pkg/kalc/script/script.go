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

// Package script renders pod moves as a bash script driving kubectl, jq and yq 2.x.
//
// Every move is one fail-fast chain: back up and orphan-delete the owning
// controllers, recreate the pod on the target node, wait for it, delete the
// original and restore the controllers. Nothing is rolled back on failure;
// the backups are left in place and their directory is printed.
package script

import (
	"crypto/md5"
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"
	"time"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/kalc-io/kalc/pkg/kalc/model"
)

const (
	placementsJSONPath = `-o jsonpath='{range .items[*]}{.metadata.namespace}/{.metadata.name} {.spec.nodeName}{"\n"}{end}'`
	placementsDigest   = `LC_ALL=C sort | md5sum | awk '{print $1}'`
)

// DefaultFingerprintCommand prints the md5 of the sorted "namespace/pod node" lines of the live cluster.
const DefaultFingerprintCommand = "kubectl get pods --all-namespaces " + placementsJSONPath + " | " + placementsDigest

// DefaultWaitTimeout bounds kubectl wait for the recreated pod.
const DefaultWaitTimeout = 5 * time.Minute

// NewPodSuffix is appended to the name of a recreated pod.
const NewPodSuffix = "-moved"

//go:embed move.sh.tmpl
var moveTemplate string

var tmpl = template.Must(template.New("move").Funcs(template.FuncMap{"quote": quote}).Parse(moveTemplate))

// Move is one pod migration.
type Move struct {
	Namespace  string
	Pod        string
	NewPod     string
	TargetNode string
	// ReplicaSet and Deployment are the owning controllers, empty when absent.
	ReplicaSet string
	Deployment string
}

// Scope is the part of the cluster a snapshot covers. The zero Scope is every pod.
type Scope struct {
	Namespace     string
	LabelSelector string
}

// FingerprintCommand prints the md5 of the sorted "namespace/pod node" lines of the
// live pods in the scope.
func (s Scope) FingerprintCommand() string {
	if s.Namespace == "" && s.LabelSelector == "" {
		return DefaultFingerprintCommand
	}
	cmd := "kubectl get pods --all-namespaces"
	if s.Namespace != "" {
		cmd = "kubectl get pods -n " + quote(s.Namespace)
	}
	if s.LabelSelector != "" {
		cmd += " -l " + quote(s.LabelSelector)
	}
	return cmd + " " + placementsJSONPath + " | " + placementsDigest
}

// Options configure a rendered script.
type Options struct {
	// Goal is recorded in the script header.
	Goal string
	// Fingerprint is the expected output of FingerprintCommand.
	Fingerprint string
	// Scope limits the live fingerprint to the pods the snapshot holds.
	Scope Scope
	// FingerprintCommand computes the live fingerprint. Scope.FingerprintCommand() when empty.
	FingerprintCommand string
	// WaitTimeout for the recreated pod. DefaultWaitTimeout when zero.
	WaitTimeout time.Duration
}

// MoveFor describes moving a pod of c to a node, with the pod's owning controllers.
func MoveFor(c *model.Cluster, pod model.PodID, target model.NodeID) Move {
	p := c.Pods[pod]
	m := Move{
		Namespace:  p.Namespace,
		Pod:        p.Name,
		NewPod:     p.Name + NewPodSuffix,
		TargetNode: c.Nodes[target].Name,
	}
	if p.ReplicaSet != model.None {
		m.ReplicaSet = c.ReplicaSets[p.ReplicaSet].Name
	}
	if p.Deployment != model.None {
		m.Deployment = c.Deployments[p.Deployment].Name
	}
	return m
}

// Fingerprint returns the md5 of the sorted "namespace/pod node" lines of the pods of c
// in scope, each line newline terminated, as scope.FingerprintCommand() prints it.
func Fingerprint(c *model.Cluster, scope Scope) (string, error) {
	selector, err := labels.Parse(scope.LabelSelector)
	if err != nil {
		return "", fmt.Errorf("invalid label selector %q: %w", scope.LabelSelector, err)
	}
	lines := c.PodPlacements(func(p *model.Pod) bool {
		return (scope.Namespace == "" || p.Namespace == scope.Namespace) && selector.Matches(labels.Set(p.Labels))
	})
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

type scriptData struct {
	Goal               string
	Fingerprint        string
	FingerprintCommand string
	WaitTimeout        string
	Namespaces         []string
	Moves              []Move
}

// Render writes a script performing moves in order.
func Render(w io.Writer, opts Options, moves ...Move) error {
	if len(moves) == 0 {
		return fmt.Errorf("no moves to render")
	}
	data := scriptData{
		Goal:               opts.Goal,
		Fingerprint:        opts.Fingerprint,
		FingerprintCommand: opts.FingerprintCommand,
		WaitTimeout:        fmt.Sprintf("%ds", int(opts.WaitTimeout.Seconds())),
		Moves:              moves,
	}
	if data.FingerprintCommand == "" {
		data.FingerprintCommand = opts.Scope.FingerprintCommand()
	}
	if opts.WaitTimeout <= 0 {
		data.WaitTimeout = fmt.Sprintf("%ds", int(DefaultWaitTimeout.Seconds()))
	}

	seen := map[string]bool{}
	for _, m := range moves {
		if m.Namespace == "" || m.Pod == "" || m.TargetNode == "" {
			return fmt.Errorf("incomplete move %+v", m)
		}
		if !seen[m.Namespace] {
			seen[m.Namespace] = true
			data.Namespaces = append(data.Namespaces, m.Namespace)
		}
	}
	sort.Strings(data.Namespaces)

	return tmpl.Execute(w, data)
}

// quote single-quotes s for bash.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
