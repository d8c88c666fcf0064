// Package scheduler partitions a dependency graph of work items into
// ordered execution levels. Every item in a level has all of its
// dependencies satisfied by earlier levels, so items within one level are
// safe to run concurrently.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
)

// CycleError reports a cyclic dependency. Scheduling aborts with no
// partial result.
type CycleError struct {
	Item string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected involving item: %s", e.Item)
}

// IsCycle reports whether err is a CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// BuildLevels computes the execution levels for the given item ids and
// dependency map (item id -> prerequisite ids). Items with no dependencies
// form level 0; an item enters level k only once every dependency appeared
// in a level before k. Order within a level is not significant.
func BuildLevels(ids []string, deps map[string][]string) ([][]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("item id cannot be empty")
		}
		if known[id] {
			return nil, fmt.Errorf("duplicate item id: %s", id)
		}
		known[id] = true
	}
	for id, prereqs := range deps {
		if !known[id] {
			return nil, fmt.Errorf("dependency map references unknown item: %s", id)
		}
		for _, dep := range prereqs {
			if !known[dep] {
				return nil, fmt.Errorf("item %s depends on unknown item: %s", id, dep)
			}
		}
	}

	if offender, ok := findCycle(ids, deps); ok {
		return nil, &CycleError{Item: offender}
	}

	return partition(ids, deps), nil
}

// findCycle runs a depth-first traversal with a visiting set; any
// back-edge into the visiting set is a cycle.
func findCycle(ids []string, deps map[string][]string) (string, bool) {
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		visited[id] = true
		visiting[id] = true

		for _, dep := range deps[id] {
			if visiting[dep] {
				return dep, true
			}
			if !visited[dep] {
				if offender, found := visit(dep); found {
					return offender, found
				}
			}
		}

		visiting[id] = false
		return "", false
	}

	for _, id := range ids {
		if !visited[id] {
			if offender, found := visit(id); found {
				return offender, true
			}
		}
	}

	return "", false
}

// partition groups items into levels by repeatedly taking everything
// whose in-degree has dropped to zero. Assumes the graph is acyclic.
func partition(ids []string, deps map[string][]string) [][]string {
	dependents := make(map[string][]string)
	inDegree := make(map[string]int, len(ids))

	for _, id := range ids {
		inDegree[id] = len(deps[id])
		for _, dep := range deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	queue := []string{}
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var levels [][]string
	for len(queue) > 0 {
		level := make([]string, len(queue))
		copy(level, queue)
		sort.Strings(level)
		levels = append(levels, level)

		next := []string{}
		for _, id := range queue {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		queue = next
	}

	return levels
}
