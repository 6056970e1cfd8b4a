package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/anggasct/greensplit/pkg/cycle"
	"github.com/anggasct/greensplit/pkg/intersection"
)

// DOTGenerator generates Graphviz DOT representations of the control cycle
// and, optionally, of an allocation
type DOTGenerator struct {
	options DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowEvents    bool
	RankDirection string // "TB", "LR", "BT", "RL"
	NodeShape     string
	// Current, when set, is highlighted as the phase the controller is in
	Current *cycle.Phase
	// Allocation, when non-empty, is rendered as a cluster of intersections
	// labelled with their priority and green time
	Allocation []intersection.Snapshot
	// Budget scales the pen width of allocation nodes
	Budget float64
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowEvents:    true,
		RankDirection: "LR",
		NodeShape:     "box",
		Budget:        cycle.DefaultBudget,
	}
}

// NewDOTGenerator creates a new DOT generator
func NewDOTGenerator(options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	return &DOTGenerator{options: opts}
}

// Generate creates a DOT representation of the control cycle
func (g *DOTGenerator) Generate() (string, error) {
	var dot strings.Builder

	dot.WriteString("digraph ControlCycle {\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString(fmt.Sprintf("  node [shape=%s];\n", g.options.NodeShape))
	dot.WriteString("  edge [fontsize=10];\n\n")

	g.generatePhases(&dot)
	g.generateTransitions(&dot)
	if err := g.generateAllocation(&dot); err != nil {
		return "", fmt.Errorf("failed to generate allocation: %w", err)
	}

	dot.WriteString("}\n")
	return dot.String(), nil
}

func (g *DOTGenerator) generatePhases(dot *strings.Builder) {
	dot.WriteString("  // Phases\n")

	for _, phase := range cycle.Phases() {
		fillColor := "lightblue"
		label := phase.String()

		if phase == cycle.PhaseIdle {
			fillColor = "lightgreen"
			label += "\\n(initial)"
		}
		if g.options.Current != nil && *g.options.Current == phase {
			fillColor = "gold"
			label += "\\n(current)"
		}

		dot.WriteString(fmt.Sprintf("  \"%s\" [style=\"filled\" fillcolor=%s label=\"%s\"];\n",
			phase, fillColor, label))
	}
	dot.WriteString("\n")
}

func (g *DOTGenerator) generateTransitions(dot *strings.Builder) {
	dot.WriteString("  // Transitions\n")

	for _, t := range cycle.Transitions() {
		if g.options.ShowEvents {
			dot.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [label=\"%s\"];\n", t.From, t.To, t.Event))
		} else {
			dot.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", t.From, t.To))
		}
	}
}

func (g *DOTGenerator) generateAllocation(dot *strings.Builder) error {
	if len(g.options.Allocation) == 0 {
		return nil
	}
	if g.options.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %v", g.options.Budget)
	}

	dot.WriteString("\n  // Allocation\n")
	dot.WriteString("  subgraph cluster_allocation {\n")
	dot.WriteString(fmt.Sprintf("    label=\"green time (budget %gs)\";\n", g.options.Budget))

	for _, n := range g.options.Allocation {
		name := fmt.Sprintf("intersection %d", n.ID)
		if n.Name != "" {
			name = n.Name
		}
		fillColor := "lightgrey"
		if n.GreenTime > 0 {
			fillColor = "palegreen"
		}
		penWidth := 1 + 4*n.GreenTime/g.options.Budget

		dot.WriteString(fmt.Sprintf(
			"    \"node_%d\" [style=\"filled\" fillcolor=%s penwidth=%.2f label=\"%s\\npriority %g\\ngreen %.2fs\"];\n",
			n.ID, fillColor, penWidth, escapeLabel(name), n.Priority, n.GreenTime))
	}
	dot.WriteString("  }\n")
	return nil
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", "")

// escapeLabel makes free text safe inside a quoted DOT label
func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}

	return os.WriteFile(filename, []byte(content), 0644)
}

// SVGGenerator generates SVG representations by calling Graphviz
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates a new SVG generator
func NewSVGGenerator(options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{
		dotGenerator: NewDOTGenerator(options...),
	}
}

// Generate creates an SVG representation by piping DOT through Graphviz
func (g *SVGGenerator) Generate() (string, error) {
	dotContent, err := g.dotGenerator.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}

	return out.String(), nil
}
