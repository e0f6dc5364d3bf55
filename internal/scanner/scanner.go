// Package scanner evaluates raw cloud policy documents against per-platform
// rule sets and produces a capped 0-100 risk score with human-readable
// findings. Scanning is pure and safe for concurrent use.
package scanner

import "strings"

// VulnerableThreshold is the score above which a policy is flagged vulnerable.
const VulnerableThreshold = 50

// maxScore caps the cumulative severity signal.
const maxScore = 100

// privilegeEscalationActions are IAM write actions that allow a principal to
// grant itself broader access.
var privilegeEscalationActions = []string{
	"iam:PutUserPolicy",
	"iam:AttachUserPolicy",
	"iam:CreatePolicyVersion",
	"iam:PassRole",
}

const azureRunCommandAction = "Microsoft.Compute/virtualMachines/runCommand/action"

// Result holds the outcome of scanning a single policy document.
type Result struct {
	Score    int
	Findings []string
}

// Vulnerable reports whether the score crosses the vulnerability threshold.
func (r Result) Vulnerable() bool {
	return r.Score > VulnerableThreshold
}

// Scan evaluates a policy document for the given platform tag. Unknown
// platforms and malformed documents yield a zero result rather than an error.
func Scan(platform string, doc map[string]any) Result {
	switch platform {
	case "aws":
		return scanAWS(doc)
	case "azure":
		return scanAzure(doc)
	case "gcp":
		return scanGCP(doc)
	default:
		return Result{}
	}
}

func scanAWS(doc map[string]any) Result {
	var b builder
	for _, stmt := range statements(doc) {
		effect, _ := stmt["Effect"].(string)
		if effect != "Allow" {
			continue
		}
		actions := toList(stmt["Action"])
		resource := singleResource(stmt["Resource"])

		if contains(actions, "*") && resource == "*" {
			b.add("Critical: Full Administrator Access (Action: *, Resource: *)", 95)
		}
		if containsAny(actions, privilegeEscalationActions) {
			b.add("High: Privilege Escalation potential detected.", 80)
		}
		if (contains(actions, "s3:*") || contains(actions, "s3:GetObject")) && resource == "*" {
			b.add("Medium: Global S3 Read/Write access.", 50)
		}
	}
	return b.result()
}

func scanAzure(doc map[string]any) Result {
	var b builder
	actions := toList(doc["actions"])
	if contains(actions, "*") {
		b.add("Critical: Wildcard permissions (Owner equivalent) found.", 90)
	}
	if contains(actions, azureRunCommandAction) {
		b.add("High: Ability to run commands on VMs detected.", 75)
	}
	return b.result()
}

func scanGCP(doc map[string]any) Result {
	var b builder
	role, _ := doc["role"].(string)
	lowered := strings.ToLower(role)
	switch {
	case strings.Contains(lowered, "roles/owner"):
		b.add("Critical: Primitive 'Owner' role detected.", 95)
	case strings.Contains(lowered, "roles/editor"):
		b.add("High: Primitive 'Editor' role detected.", 70)
	}
	return b.result()
}

type builder struct {
	score    int
	findings []string
}

func (b *builder) add(finding string, weight int) {
	b.findings = append(b.findings, finding)
	b.score += weight
}

func (b *builder) result() Result {
	score := b.score
	if score > maxScore {
		score = maxScore
	}
	return Result{Score: score, Findings: b.findings}
}

// statements returns the Statement list, normalizing a bare statement object
// to a one-element list. Anything else degrades to an empty list.
func statements(doc map[string]any) []map[string]any {
	switch v := doc["Statement"].(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if stmt, ok := item.(map[string]any); ok {
				out = append(out, stmt)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{v}
	default:
		return nil
	}
}

// toList normalizes a string-or-list policy field into a list of strings.
func toList(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// singleResource returns the resource only when it is exactly the single
// string form the rule set matches against.
func singleResource(value any) string {
	s, _ := value.(string)
	return s
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

func containsAny(list []string, targets []string) bool {
	for _, target := range targets {
		if contains(list, target) {
			return true
		}
	}
	return false
}
