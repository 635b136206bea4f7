package skills

import (
	"strings"
	"sync"

	"polaris/internal/logging"
)

// Registry holds an immutable snapshot of loaded skills. Refresh
// rebuilds the whole table and swaps it in atomically, so readers
// never observe a partially-reloaded state.
type Registry struct {
	loader *Loader

	mu     sync.RWMutex
	skills []Skill
}

// NewRegistry creates a registry and performs the initial load.
func NewRegistry(dir string, externalPaths []string) *Registry {
	r := &Registry{loader: NewLoader(dir, externalPaths)}
	r.Refresh()
	return r
}

// Refresh reloads every manifest from disk and swaps the snapshot.
// Safe to call from the hot reloader at any time.
func (r *Registry) Refresh() {
	loaded := r.loader.LoadAll()

	r.mu.Lock()
	r.skills = loaded
	r.mu.Unlock()

	logging.Get(logging.CategorySkills).Infof("skill registry refreshed: %d skills", len(loaded))
}

// All returns the current snapshot. Callers must not mutate it.
func (r *Registry) All() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.skills
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.skills {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

// Count returns the number of loaded skills.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}

// Match returns every skill with a trigger appearing as a
// case-insensitive substring of the message.
func (r *Registry) Match(message string) []Skill {
	msg := strings.ToLower(message)

	r.mu.RLock()
	snapshot := r.skills
	r.mu.RUnlock()

	var matched []Skill
	for _, s := range snapshot {
		for _, trigger := range s.Triggers {
			if trigger != "" && strings.Contains(msg, strings.ToLower(trigger)) {
				matched = append(matched, s)
				break
			}
		}
	}
	return matched
}
