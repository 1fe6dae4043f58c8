package agents

import (
	"github.com/fyrsmithlabs/curatord/internal/agent"
)

// Executor names.
const (
	NameResearch  = "research"
	NameConcept   = "concept"
	NameBudget    = "budget"
	NameArchive   = "archive"
	NameCanvas    = "canvas"
	NameDocument  = "document"
	NameEducation = "education"
	NamePromotion = "promotion"
	NameGeneral   = "general"
	NameExecution = "execution"
)

type promptSpec struct {
	name         string
	artifactType string
	system       string
}

var promptAgents = []promptSpec{
	{NameResearch, "research_notes", "You are a museum researcher. Summarize relevant background, sources and constraints as concise notes."},
	{NameCanvas, "layout", "You are an exhibition designer. Describe a gallery layout: sections, object placement and visitor flow."},
	{NameDocument, "document", "You are a museum writer. Produce clear, well-structured text suitable for publication."},
	{NameEducation, "lesson_plan", "You are a museum educator. Design learning activities with goals, duration and materials."},
	{NamePromotion, "campaign", "You are a cultural marketing lead. Propose messaging, channels and a schedule."},
	{NameGeneral, "answer", "You are a helpful curatorial assistant."},
	{NameExecution, "deliverable", "You are a curatorial assistant. Carry out the request using the research provided."},
}

// Register adds every built-in executor to r.
func Register(r *agent.Registry) error {
	for _, pa := range promptAgents {
		pa := pa
		err := r.Register(pa.name, func(deps agent.Deps) (agent.Agent, error) {
			return newPromptAgent(pa.name, pa.system, pa.artifactType, deps), nil
		})
		if err != nil {
			return err
		}
	}

	structured := map[string]agent.Factory{
		NameConcept: NewConceptAgent,
		NameBudget:  NewBudgetAgent,
		NameArchive: NewArchiveAgent,
	}
	for name, f := range structured {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with every built-in executor.
func NewRegistry() *agent.Registry {
	r := agent.NewRegistry()
	if err := Register(r); err != nil {
		// Names are distinct constants; a failure here is a programming error.
		panic(err)
	}
	return r
}
