package extension

import "sort"

// loadOrder sorts entries so that every dependency comes before its
// dependents, keeping discovery order among independent entries.
// Dependencies outside the set are ignored here and fail at load. Entries
// in a cycle are appended in discovery order.
func loadOrder(entries []*entry) []*entry {
	sorted := append([]*entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].order < sorted[j].order })

	byName := make(map[string]*entry, len(sorted))
	for _, e := range sorted {
		byName[e.meta.Name] = e
	}

	pending := make(map[string]int, len(sorted))
	dependents := make(map[string][]string)
	for _, e := range sorted {
		for _, dep := range e.meta.Depends {
			if _, ok := byName[dep.Name]; !ok || dep.Name == e.meta.Name {
				continue
			}
			pending[e.meta.Name]++
			dependents[dep.Name] = append(dependents[dep.Name], e.meta.Name)
		}
	}

	out := make([]*entry, 0, len(sorted))
	done := make(map[string]bool, len(sorted))
	for len(out) < len(sorted) {
		progressed := false
		for _, e := range sorted {
			name := e.meta.Name
			if done[name] || pending[name] > 0 {
				continue
			}
			done[name] = true
			out = append(out, e)
			for _, d := range dependents[name] {
				pending[d]--
			}
			progressed = true
			// restart so an unblocked earlier entry keeps its place
			break
		}
		if !progressed {
			for _, e := range sorted {
				if !done[e.meta.Name] {
					done[e.meta.Name] = true
					out = append(out, e)
				}
			}
		}
	}
	return out
}
