package spreadsheet

import (
	"slices"
	"strings"
)

// DependencyGraph maps each referenced token (a cell name, a range token or
// any other identifier) to the cells whose expressions mention it
type DependencyGraph struct {
	dependents     map[string][]string     // token -> dependent cells, insertion order
	precedents     map[string][]string     // dependent cell -> tokens it references (reverse index)
	rangeObservers map[string]RangeAddress // range token -> rectangle, for tokens with dependents
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		dependents:     make(map[string][]string),
		precedents:     make(map[string][]string),
		rangeObservers: make(map[string]RangeAddress),
	}
}

// Rebind replaces every edge owned by dependent with edges from tokens.
// removal walks the reverse index, so it costs the old token count rather
// than the size of the graph.
func (dg *DependencyGraph) Rebind(dependent string, tokens []string) {
	dg.ClearDependencies(dependent)

	var owned []string
	for _, token := range tokens {
		if slices.Contains(owned, token) {
			continue
		}
		owned = append(owned, token)
		dg.dependents[token] = append(dg.dependents[token], dependent)
		if _, tracked := dg.rangeObservers[token]; !tracked {
			if addr, err := ParseRange(token); err == nil {
				dg.rangeObservers[token] = addr
			}
		}
	}
	if len(owned) > 0 {
		dg.precedents[dependent] = owned
	}
}

// ClearDependencies removes dependent from every bucket it occupies and
// drops buckets left empty
func (dg *DependencyGraph) ClearDependencies(dependent string) {
	for _, token := range dg.precedents[dependent] {
		bucket := slices.DeleteFunc(dg.dependents[token], func(d string) bool {
			return d == dependent
		})
		if len(bucket) == 0 {
			delete(dg.dependents, token)
			delete(dg.rangeObservers, token)
			continue
		}
		dg.dependents[token] = bucket
	}
	delete(dg.precedents, dependent)
}

// Dependents returns the cells that reference token, in insertion order
func (dg *DependencyGraph) Dependents(token string) []string {
	return slices.Clone(dg.dependents[token])
}

// Precedents returns the tokens a cell's expression references
func (dg *DependencyGraph) Precedents(dependent string) []string {
	return slices.Clone(dg.precedents[dependent])
}

// DependentsOfCell returns the cells affected by a write to name: the
// dependents of the bare name followed by the dependents of every tracked
// range covering it
func (dg *DependencyGraph) DependentsOfCell(name string) []string {
	result := slices.Clone(dg.dependents[name])
	id, err := ParseCellID(name)
	if err != nil || len(dg.rangeObservers) == 0 {
		return result
	}

	// range tokens are visited in sorted order so results are deterministic
	for _, token := range dg.coveringRanges(id) {
		for _, dependent := range dg.dependents[token] {
			if !slices.Contains(result, dependent) {
				result = append(result, dependent)
			}
		}
	}
	return result
}

// coveringRanges returns the tracked range tokens containing id, sorted
func (dg *DependencyGraph) coveringRanges(id CellID) []string {
	var tokens []string
	for token, addr := range dg.rangeObservers {
		if addr.Contains(id) {
			tokens = append(tokens, token)
		}
	}
	slices.Sort(tokens)
	return tokens
}

// IsInRange checks if a cell name falls within a range token
func (dg *DependencyGraph) IsInRange(name, token string) bool {
	addr, ok := dg.rangeObservers[token]
	if !ok {
		var err error
		if addr, err = ParseRange(token); err != nil {
			return false
		}
	}
	id, err := ParseCellID(name)
	if err != nil {
		return false
	}
	return addr.Contains(id)
}

// allDependents returns every transitive dependent of name in the order
// a breadth-first walk discovers them. name itself is not included.
func (dg *DependencyGraph) allDependents(name string) []string {
	order, _ := dg.walkDependents(name)
	return order[1:]
}

// walkDependents runs the queue-and-visited walk from root. the returned
// order starts with root; parent maps each discovered cell to the cell it
// was reached from.
func (dg *DependencyGraph) walkDependents(root string) ([]string, map[string]string) {
	visited := map[string]struct{}{root: {}}
	parent := make(map[string]string)
	order := []string{root}

	queue := []string{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range dg.DependentsOfCell(current) {
			if _, seen := visited[dependent]; seen {
				continue
			}
			visited[dependent] = struct{}{}
			parent[dependent] = current
			order = append(order, dependent)
			queue = append(queue, dependent)
		}
	}
	return order, parent
}

// FindCycle reports whether binding tokens to cell would close a cycle:
// that is, whether any token names or covers cell itself or one of its
// transitive dependents. the returned path reads in reference order,
// e.g. [A1 B1 A1] for A1 referencing B1 which references A1.
func (dg *DependencyGraph) FindCycle(cell string, tokens []string) ([]string, bool) {
	order, parent := dg.walkDependents(cell)

	for _, token := range tokens {
		for _, reached := range order {
			if token != reached && !dg.IsInRange(reached, token) {
				continue
			}
			path := []string{cell}
			for at := reached; at != cell; at = parent[at] {
				path = append(path, at)
			}
			return append(path, cell), true
		}
	}
	return nil, false
}

// FormatCycle renders a cycle path as "A1 -> B1 -> A1"
func FormatCycle(path []string) string {
	return strings.Join(path, " -> ")
}

// GetCalculationOrder returns the transitive dependents of root in an order
// where every cell comes after all of its precedents that are also being
// recalculated. root is not included; the caller has already evaluated it.
func (dg *DependencyGraph) GetCalculationOrder(root string) []string {
	affected, _ := dg.walkDependents(root)
	return dg.orderCells(affected[1:])
}

// orderCells sorts cells so that each one follows every precedent of it
// that is also in cells, against the current edges
func (dg *DependencyGraph) orderCells(cells []string) []string {
	if len(cells) < 2 {
		return cells
	}

	inSet := make(map[string]CellID, len(cells))
	for _, name := range cells {
		id, _ := ParseCellID(name)
		inSet[name] = id
	}

	// three states: unvisited (not in map), visiting (false), visited (true)
	state := make(map[string]bool, len(cells))
	order := make([]string, 0, len(cells))

	var visit func(name string)
	visit = func(name string) {
		if _, exists := state[name]; exists {
			// visited, or a cycle; Set rejects cycles before they reach here
			return
		}
		state[name] = false

		for _, token := range dg.precedents[name] {
			if _, ok := inSet[token]; ok {
				visit(token)
				continue
			}
			addr, isRange := dg.rangeObservers[token]
			if !isRange {
				continue
			}
			for _, other := range cells {
				if addr.Contains(inSet[other]) {
					visit(other)
				}
			}
		}

		state[name] = true
		order = append(order, name)
	}

	for _, name := range cells {
		visit(name)
	}
	return order
}

// NodeCount returns the number of cells with at least one precedent
func (dg *DependencyGraph) NodeCount() int {
	return len(dg.precedents)
}

// TokenCount returns the number of tokens with at least one dependent
func (dg *DependencyGraph) TokenCount() int {
	return len(dg.dependents)
}

// RangeObserverCount returns the number of observed ranges
func (dg *DependencyGraph) RangeObserverCount() int {
	return len(dg.rangeObservers)
}
