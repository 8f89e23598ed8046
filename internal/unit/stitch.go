package unit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/me/hybpiper/internal/toolexec"
)

// Default command templates for the collaborators. Placeholders are
// replaced with shell-quoted values by Expand.
const (
	DefaultStitchCommand = "exonerate_hits.py {target} {contigs} --prefix {out} --thresh {thresh} --depth_multiplier {depth_multiplier}"
	DefaultIntronCommand = "intronerate.py --prefix {out}"
)

// Request describes one unit's collaborator inputs and outputs.
type Request struct {
	Unit            string
	Sample          string
	Contigs         string
	Target          string
	Reads           string
	OutDir          string
	Thresh          int
	DepthMultiplier int

	Logger  *slog.Logger
	OnStart func(pid int)
}

func (r Request) placeholders() map[string]string {
	return map[string]string{
		"unit":             r.Unit,
		"sample":           r.Sample,
		"contigs":          r.Contigs,
		"target":           r.Target,
		"reads":            r.Reads,
		"out":              r.OutDir,
		"thresh":           strconv.Itoa(r.Thresh),
		"depth_multiplier": strconv.Itoa(r.DepthMultiplier),
	}
}

// HitStitcher aligns a unit's contigs against its target and writes the
// stitched sequence plus auxiliary report files into Request.OutDir.
type HitStitcher interface {
	Stitch(ctx context.Context, req Request) error
}

// IntronRecoverer recovers intron-containing sequences from a unit's
// stitching output.
type IntronRecoverer interface {
	Recover(ctx context.Context, req Request) error
}

// CommandStitcher runs a shell command template as the hit/stitch
// collaborator. It also serves as an IntronRecoverer.
type CommandStitcher struct {
	exec     toolexec.CommandRunner
	name     string
	template string
}

// NewCommandStitcher creates a collaborator that runs template through exec.
func NewCommandStitcher(exec toolexec.CommandRunner, name, template string) (*CommandStitcher, error) {
	if err := CheckTemplate(template); err != nil {
		return nil, err
	}
	return &CommandStitcher{exec: exec, name: name, template: template}, nil
}

func (c *CommandStitcher) Stitch(ctx context.Context, req Request) error {
	return c.run(ctx, req)
}

func (c *CommandStitcher) Recover(ctx context.Context, req Request) error {
	return c.run(ctx, req)
}

func (c *CommandStitcher) run(ctx context.Context, req Request) error {
	shell, err := Expand(c.template, req)
	if err != nil {
		return err
	}
	_, err = c.exec.Run(ctx, toolexec.Spec{
		Name:    c.name,
		Shell:   shell,
		Dir:     req.OutDir,
		Logger:  req.Logger,
		OnStart: req.OnStart,
	})
	return err
}

// Program returns the executable a template invokes.
func Program(template string) string {
	f := strings.Fields(template)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// CheckTemplate reports unknown placeholders.
func CheckTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("empty command template")
	}
	_, err := Expand(template, Request{})
	return err
}

// Expand substitutes {name} placeholders in template with shell-quoted
// request values. Only a brace pair around a lower-case name is a
// placeholder; any other brace such as awk's {print $1} or ${VAR} is
// copied through, and {{ or }} writes a literal brace.
func Expand(template string, req Request) (string, error) {
	vals := req.placeholders()
	var b strings.Builder
	for i := 0; i < len(template); {
		c := template[i]
		if (c == '{' || c == '}') && i+1 < len(template) && template[i+1] == c {
			b.WriteByte(c)
			i += 2
			continue
		}
		key, ok := "", false
		if c == '{' {
			key, ok = placeholderKey(template[i+1:])
		}
		if !ok {
			b.WriteByte(c)
			i++
			continue
		}
		v, known := vals[key]
		if !known {
			return "", fmt.Errorf("unknown placeholder {%s}; known: %s", key, knownPlaceholders(vals))
		}
		b.WriteString(toolexec.Quote(v))
		i += len(key) + 2
	}
	return b.String(), nil
}

// placeholderKey returns the name in s when s starts with [a-z_]+ followed
// by a closing brace.
func placeholderKey(s string) (string, bool) {
	n := 0
	for n < len(s) && (s[n] >= 'a' && s[n] <= 'z' || s[n] == '_') {
		n++
	}
	if n == 0 || n == len(s) || s[n] != '}' {
		return "", false
	}
	return s[:n], true
}

func knownPlaceholders(vals map[string]string) string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, "{"+k+"}")
	}
	sort.Strings(keys)
	return strings.Join(keys, " ")
}
