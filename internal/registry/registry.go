// Package registry holds the static catalog of named bot capabilities.
package registry

import "github.com/gcolon75/valine-orchestrator/internal/model"

// Registry is a read-only, insertion-ordered catalog of agent descriptors.
// It is immutable after construction and safe for concurrent use without
// locking.
type Registry struct {
	agents []model.AgentDescriptor
	byID   map[string]model.AgentDescriptor
}

// New builds a registry from the given descriptors, preserving order.
// Later duplicates of an ID are ignored.
func New(agents []model.AgentDescriptor) *Registry {
	r := &Registry{
		agents: make([]model.AgentDescriptor, 0, len(agents)),
		byID:   make(map[string]model.AgentDescriptor, len(agents)),
	}
	for _, a := range agents {
		if _, ok := r.byID[a.ID]; ok {
			continue
		}
		r.agents = append(r.agents, a)
		r.byID[a.ID] = a
	}
	return r
}

// Default returns the built-in Project Valine capability catalog.
// Extending the catalog is an append here and nothing else.
func Default() *Registry {
	return New([]model.AgentDescriptor{
		{
			ID:           "orchestrator",
			DisplayName:  "Orchestrator",
			Description:  "Dispatches CI/CD workflows and tracks them to completion.",
			EntryCommand: "/trigger",
		},
		{
			ID:           "status-reporter",
			DisplayName:  "Status Reporter",
			Description:  "Summarizes recent workflow outcomes over a daily or weekly window.",
			EntryCommand: "/status",
		},
		{
			ID:           "debug-assistant",
			DisplayName:  "Debug Assistant",
			Description:  "Retrieves your latest execution trace for troubleshooting.",
			EntryCommand: "/debug-last",
		},
	})
}

// Agents returns the catalog in insertion order. The returned slice is a
// copy; callers may not mutate the registry through it.
func (r *Registry) Agents() []model.AgentDescriptor {
	out := make([]model.AgentDescriptor, len(r.agents))
	copy(out, r.agents)
	return out
}

// AgentByID looks up a descriptor. The second return is false when the ID
// is unknown; lookup never panics.
func (r *Registry) AgentByID(id string) (model.AgentDescriptor, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.agents)
}
