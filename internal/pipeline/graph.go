package pipeline

import (
	"fmt"
	"slices"
)

// Node describes one stage in the graph.
type Node struct {
	Stage    Stage
	Requires []Stage
	Status   Status
	Tier     Tier
	// FanOut marks stages issued once per unit produced by a prerequisite
	// (one transcription job per audio segment).
	FanOut bool
}

// Graph is the fixed directed stage graph evaluated generically by the
// coordinator.
type Graph struct {
	nodes map[Stage]Node
	order []Stage
}

var defaultOrder = []Stage{
	StageCompressVideo,
	StageExtractAudio,
	StageSegmentAudio,
	StageTranscribeSegment,
	StageGenerateTags,
	StageGenerateTitle,
	StageGenerateTodo,
	StageGenerateEmbedding,
	StageUploadRemote,
	StageFinalize,
}

var analysisStages = []Stage{StageGenerateTags, StageGenerateTitle, StageGenerateTodo, StageGenerateEmbedding}

// DefaultGraph returns the media pipeline graph.
func DefaultGraph() *Graph {
	nodes := []Node{
		{Stage: StageCompressVideo, Status: StatusProcessingVideo, Tier: TierHeavy},
		{Stage: StageExtractAudio, Status: StatusProcessingVideo, Tier: TierHeavy},
		{Stage: StageSegmentAudio, Requires: []Stage{StageCompressVideo, StageExtractAudio}, Status: StatusSegmentingAudio, Tier: TierLight},
		{Stage: StageTranscribeSegment, Requires: []Stage{StageSegmentAudio}, Status: StatusTranscribing, Tier: TierLight, FanOut: true},
		{Stage: StageGenerateTags, Requires: []Stage{StageTranscribeSegment}, Status: StatusAnalyzing, Tier: TierLight},
		{Stage: StageGenerateTitle, Requires: []Stage{StageTranscribeSegment}, Status: StatusAnalyzing, Tier: TierLight},
		{Stage: StageGenerateTodo, Requires: []Stage{StageTranscribeSegment}, Status: StatusAnalyzing, Tier: TierLight},
		{Stage: StageGenerateEmbedding, Requires: []Stage{StageTranscribeSegment}, Status: StatusAnalyzing, Tier: TierLight},
		{Stage: StageUploadRemote, Requires: slices.Clone(analysisStages), Status: StatusUploadingRemote, Tier: TierLight},
		{Stage: StageFinalize, Requires: []Stage{StageUploadRemote}, Status: StatusFinalizing, Tier: TierLight},
	}
	g, err := NewGraph(nodes)
	if err != nil {
		panic(err)
	}
	return g
}

// NewGraph validates the node set: every prerequisite must be declared
// earlier in the slice, which rules out cycles.
func NewGraph(nodes []Node) (*Graph, error) {
	g := &Graph{nodes: make(map[Stage]Node, len(nodes)), order: make([]Stage, 0, len(nodes))}
	for _, node := range nodes {
		if _, dup := g.nodes[node.Stage]; dup {
			return nil, fmt.Errorf("pipeline graph: duplicate stage %q", node.Stage)
		}
		for _, req := range node.Requires {
			if _, ok := g.nodes[req]; !ok {
				return nil, fmt.Errorf("pipeline graph: stage %q requires undeclared %q", node.Stage, req)
			}
		}
		g.nodes[node.Stage] = node
		g.order = append(g.order, node.Stage)
	}
	return g, nil
}

// Node returns the node for a stage.
func (g *Graph) Node(stage Stage) (Node, bool) {
	node, ok := g.nodes[stage]
	return node, ok
}

// Stages returns every stage in topological order.
func (g *Graph) Stages() []Stage {
	return slices.Clone(g.order)
}

// Roots returns the stages issued on submission.
func (g *Graph) Roots() []Stage {
	var roots []Stage
	for _, stage := range g.order {
		if len(g.nodes[stage].Requires) == 0 {
			roots = append(roots, stage)
		}
	}
	return roots
}

// Dependents returns the stages that list stage as a prerequisite.
func (g *Graph) Dependents(stage Stage) []Stage {
	var out []Stage
	for _, candidate := range g.order {
		if slices.Contains(g.nodes[candidate].Requires, stage) {
			out = append(out, candidate)
		}
	}
	return out
}

// Ready returns the dependents of completed whose full prerequisite set
// has succeeded. Evaluation depends only on the succeeded predicate, never on
// the order in which prerequisites finished.
func (g *Graph) Ready(completed Stage, succeeded func(Stage) bool) []Stage {
	var ready []Stage
	for _, dep := range g.Dependents(completed) {
		all := true
		for _, req := range g.nodes[dep].Requires {
			if !succeeded(req) {
				all = false
				break
			}
		}
		if all {
			ready = append(ready, dep)
		}
	}
	return ready
}

// Last returns the final stage of the graph.
func (g *Graph) Last() Stage {
	return g.order[len(g.order)-1]
}

// AnalysisStages returns the parallel analysis branches.
func AnalysisStages() []Stage {
	return slices.Clone(analysisStages)
}
