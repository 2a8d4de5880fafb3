package dispatch

import "sort"

// Model describes one candidate backend in the registry.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"contextLength"`
	Speed         string `json:"speed"`
	Quality       string `json:"quality"`
	Free          bool   `json:"free"`
	Priority      int    `json:"priority"`
}

// DefaultModels is the built-in catalog of free OpenRouter models.
var DefaultModels = []Model{
	{ID: "meta-llama/llama-3.2-3b-instruct:free", Name: "Llama 3.2 3B", ContextLength: 8192, Speed: "fast", Quality: "high", Free: true, Priority: 1},
	{ID: "microsoft/phi-3-mini-128k-instruct:free", Name: "Phi-3 Mini 128K", ContextLength: 128000, Speed: "fast", Quality: "high", Free: true, Priority: 2},
	{ID: "meta-llama/llama-3.1-8b-instruct:free", Name: "Llama 3.1 8B", ContextLength: 8192, Speed: "medium", Quality: "high", Free: true, Priority: 3},
	{ID: "openchat/openchat-7b:free", Name: "OpenChat 7B", ContextLength: 8192, Speed: "fast", Quality: "medium", Free: true, Priority: 4},
	{ID: "google/gemma-2-9b-it:free", Name: "Gemma 2 9B", ContextLength: 8192, Speed: "medium", Quality: "high", Free: true, Priority: 5},
}

// Registry is an immutable, priority-ordered model catalog.
type Registry struct {
	models []Model
}

// NewRegistry copies models into a registry sorted by priority.
// An empty list yields the default catalog.
func NewRegistry(models []Model) *Registry {
	if len(models) == 0 {
		models = DefaultModels
	}
	sorted := append([]Model(nil), models...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Registry{models: sorted}
}

// Models returns a copy of the catalog in priority order.
func (r *Registry) Models() []Model {
	return append([]Model(nil), r.models...)
}

// Best returns the model with the lowest priority rank.
func (r *Registry) Best() Model {
	return r.models[0]
}

// ForContext returns the preferred model whose context window holds n
// tokens, or Best when none does.
func (r *Registry) ForContext(n int) Model {
	for _, m := range r.models {
		if m.ContextLength >= n {
			return m
		}
	}
	return r.Best()
}
