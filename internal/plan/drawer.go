package plan

import (
	"fmt"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	colors "gopkg.in/go-playground/colors.v1"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// Drawer renders a job dependency graph in Graphviz DOT form. A plain
// plan renders as outline nodes; after a run, statuses and durations
// color and annotate the nodes.
type Drawer struct {
	graph graph.Graph[string, string]
}

// NewDrawer creates an empty drawer.
func NewDrawer() *Drawer {
	return &Drawer{
		graph: graph.New(graph.StringHash, graph.Directed()),
	}
}

// NewDrawerFromPlan creates a drawer pre-populated with the plan's jobs
// and needs edges.
func NewDrawerFromPlan(p *Plan) (*Drawer, error) {
	d := NewDrawer()
	for _, j := range p.Jobs {
		if err := d.AddJob(j.Name); err != nil {
			return nil, err
		}
	}
	for _, j := range p.Jobs {
		for _, need := range j.Needs {
			if err := d.AddDependency(need, j.Name); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// AddJob adds a job node to the graph.
func (d *Drawer) AddJob(name string) error {
	err := d.graph.AddVertex(name, graph.VertexAttribute("shape", "box"))
	if err != nil {
		return errors.Wrapf(err, "unable to add job %s", name)
	}
	return nil
}

// AddDependency adds a needs edge from a prerequisite to its dependent.
func (d *Drawer) AddDependency(from, to string) error {
	err := d.graph.AddEdge(from, to)
	if err != nil {
		return errors.Wrapf(err, "unable to add edge from %s to %s", from, to)
	}
	return nil
}

// SetStatus fills the job node with its result color.
func (d *Drawer) SetStatus(name string, status model.Status) error {
	_, properties, err := d.graph.VertexWithProperties(name)
	if err != nil {
		return errors.Wrapf(err, "unable to get properties of job %s", name)
	}

	hex, err := statusColor(status)
	if err != nil {
		return err
	}
	properties.Attributes["style"] = "filled"
	properties.Attributes["fillcolor"] = hex
	properties.Attributes["fontcolor"] = "white"
	return nil
}

// SetDuration annotates the job node with its wall-clock duration.
func (d *Drawer) SetDuration(name string, dur time.Duration) error {
	_, properties, err := d.graph.VertexWithProperties(name)
	if err != nil {
		return errors.Wrapf(err, "unable to get properties of job %s", name)
	}

	properties.Attributes["xlabel"] = dur.Round(time.Millisecond).String()
	return nil
}

// Draw writes the graph in DOT form.
func (d *Drawer) Draw(w io.Writer) error {
	desc, err := generateDOT(d.graph, GraphAttribute("rankdir", "LR"))
	if err != nil {
		return errors.Wrap(err, "unable to generate DOT description")
	}
	return renderDOT(w, desc)
}

// statusColor maps a result status to a fill color.
func statusColor(status model.Status) (string, error) {
	var r, g, b uint8
	switch status {
	case model.StatusPassed:
		r, g, b = 46, 160, 67
	case model.StatusFailed:
		r, g, b = 218, 54, 51
	case model.StatusErrored:
		r, g, b = 130, 27, 23
	case model.StatusCanceled:
		r, g, b = 158, 106, 3
	default: // skipped and anything unknown
		r, g, b = 139, 148, 158
	}

	c, err := colors.RGB(r, g, b)
	if err != nil {
		return "", errors.Wrap(err, "unable to build color")
	}
	return c.ToHEX().String(), nil
}

const dotTemplate = `strict digraph {
	{{range $k, $v := .Attributes}}{{$k}}="{{$v}}";
	{{end -}}
	{{range $s := .Statements}}"{{.Source}}" {{if .Target}}-> "{{.Target}}"{{else}}[ {{range $k, $v := .HTMLAttributes}}{{$k}}={{$v}}, {{end}}{{range $k, $v := .NodeAttributes}}{{$k}}="{{$v}}", {{end}}weight={{.Weight}} ]{{end}};
	{{end -}}
}
`

type description struct {
	Attributes map[string]string
	Statements []statement
}

type statement struct {
	Source         string
	Target         string
	NodeAttributes map[string]string
	HTMLAttributes map[string]string
	Weight         int
}

// GraphAttribute sets a graph-level DOT attribute.
func GraphAttribute(key, value string) func(*description) {
	return func(d *description) {
		d.Attributes[key] = value
	}
}

// generateDOT walks the graph into a template-ready description. Node
// statements come before edge statements, each group sorted, so the
// output is stable enough to diff across runs.
func generateDOT(g graph.Graph[string, string], options ...func(*description)) (description, error) {
	desc := description{
		Attributes: make(map[string]string),
		Statements: make([]statement, 0),
	}

	for _, option := range options {
		option(&desc)
	}

	adjacencyMap, err := g.AdjacencyMap()
	if err != nil {
		return desc, errors.Wrap(err, "unable to get adjacency map")
	}

	vertices := make([]string, 0, len(adjacencyMap))
	for vertex := range adjacencyMap {
		vertices = append(vertices, vertex)
	}
	sort.Strings(vertices)

	var edges []statement
	for _, vertex := range vertices {
		_, properties, err := g.VertexWithProperties(vertex)
		if err != nil {
			return desc, errors.Wrapf(err, "unable to get properties of %s", vertex)
		}

		htmlAttributes := make(map[string]string)
		if xlabel, ok := properties.Attributes["xlabel"]; ok {
			// Render name and annotation as one HTML label; HTML labels
			// are angle-quoted in DOT and must not be string-quoted.
			htmlAttributes["label"] = fmt.Sprintf(`<%s <BR /> <FONT POINT-SIZE="10">%s</FONT>>`, vertex, xlabel)
			delete(properties.Attributes, "xlabel")
		}

		desc.Statements = append(desc.Statements, statement{
			Source:         vertex,
			Weight:         properties.Weight,
			NodeAttributes: properties.Attributes,
			HTMLAttributes: htmlAttributes,
		})

		for adjacency, edge := range adjacencyMap[vertex] {
			edges = append(edges, statement{
				Source: vertex,
				Target: adjacency,
				Weight: edge.Properties.Weight,
			})
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	desc.Statements = append(desc.Statements, edges...)

	return desc, nil
}

func renderDOT(w io.Writer, desc description) error {
	tpl, err := template.New("dotTemplate").Parse(dotTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	err = tpl.Execute(w, desc)
	if err != nil {
		return errors.Wrap(err, "unable to execute template")
	}
	return nil
}
