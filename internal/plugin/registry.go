package plugin

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/packet"
)

// Registry holds every registered ProcessPlugin and computes a
// deterministic load order from their declared dependencies.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]ProcessPlugin
	order   []string // cached load order, invalidated on Register
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]ProcessPlugin)}
}

func (r *Registry) Register(p ProcessPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Metadata().Name
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin '%s' already registered", name)
	}
	r.plugins[name] = p
	r.order = nil
	return nil
}

func (r *Registry) Get(name string) (ProcessPlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.plugins[name]
	if !exists {
		return nil, fmt.Errorf("plugin '%s' not found", name)
	}
	return p, nil
}

// LoadOrder returns plugin names in an order where every plugin appears
// after its declared dependencies, using Kahn's algorithm with
// lexicographic tie-breaking for determinism across runs.
func (r *Registry) LoadOrder() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.order != nil {
		out := make([]string, len(r.order))
		copy(out, r.order)
		return out, nil
	}

	graph := make(map[string][]string)
	inDegree := make(map[string]int)

	for name, p := range r.plugins {
		meta := p.Metadata()
		for _, dep := range meta.Dependencies {
			if _, exists := r.plugins[dep]; !exists {
				return nil, fmt.Errorf("plugin '%s' has unknown dependency '%s'", name, dep)
			}
			graph[dep] = append(graph[dep], name)
		}
		inDegree[name] = len(meta.Dependencies)
	}

	queue := make([]string, 0)
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(r.plugins))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		dependents := append([]string(nil), graph[current]...)
		sort.Strings(dependents)
		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(r.plugins) {
		return nil, fmt.Errorf("circular dependency detected among plugins")
	}

	r.order = result
	out := make([]string, len(result))
	copy(out, result)
	return out, nil
}

func (r *Registry) ordered() ([]ProcessPlugin, error) {
	names, err := r.LoadOrder()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProcessPlugin, 0, len(names))
	for _, n := range names {
		out = append(out, r.plugins[n])
	}
	return out, nil
}

// RunPreCreate runs PreCreate across every plugin in load order, returning
// false (veto) if any plugin vetoes. Errors are not possible here (the hook
// has no error return) but a plugin panic recovery boundary would sit here
// if plugins were ever loaded dynamically.
func (r *Registry) RunPreCreate(pkt *packet.Descriptor) (bool, error) {
	plugins, err := r.ordered()
	if err != nil {
		return false, err
	}
	keep := true
	for _, p := range plugins {
		if !p.PreCreate(pkt) {
			keep = false
		}
	}
	return keep, nil
}

// RunPostCreate runs PostCreate across every plugin, aggregating any
// resulting flush verdicts: Flush/FlushWithReinsert from any plugin wins
// over OK. A plugin panic is reported as an error rather than tearing
// down the cache (plugins here cannot return error, only a verdict;
// aggregation is still done via multierr for symmetry with the other
// Run* methods so a future error-returning hook slots in cleanly).
func (r *Registry) RunPostCreate(rec *flowrecord.Record, pkt *packet.Descriptor) (Verdict, error) {
	return r.fanOut(func(p ProcessPlugin) Verdict { return p.PostCreate(rec, pkt) })
}

func (r *Registry) RunPreUpdate(rec *flowrecord.Record, pkt *packet.Descriptor) (Verdict, error) {
	return r.fanOut(func(p ProcessPlugin) Verdict { return p.PreUpdate(rec, pkt) })
}

func (r *Registry) RunPostUpdate(rec *flowrecord.Record, pkt *packet.Descriptor) (Verdict, error) {
	return r.fanOut(func(p ProcessPlugin) Verdict { return p.PostUpdate(rec, pkt) })
}

func (r *Registry) RunPreExport(rec *flowrecord.Record) (Verdict, error) {
	return r.fanOut(func(p ProcessPlugin) Verdict { return p.PreExport(rec) })
}

func (r *Registry) fanOut(call func(ProcessPlugin) Verdict) (Verdict, error) {
	plugins, err := r.ordered()
	if err != nil {
		return OK, err
	}
	var errs error
	verdict := OK
	for _, p := range plugins {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					errs = multierr.Append(errs, fmt.Errorf("plugin '%s' panicked: %v", p.Metadata().Name, rec))
				}
			}()
			v := call(p)
			if v > verdict {
				verdict = v
			}
		}()
	}
	return verdict, errs
}
