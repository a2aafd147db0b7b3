// Package statemachine holds the (from, event) -> to tables that every lifecycle
// in the academy is validated against.
package statemachine

import (
	"fmt"
	"sort"

	"smallbiznis-academy/pkg/errutil"
)

type Transition[S ~string, E ~string] struct {
	From  S
	Event E
}

type Table[S ~string, E ~string] struct {
	name  string
	edges map[Transition[S, E]]S
}

// Edge declares that event moves every state in from to the single state to.
type Edge[S ~string, E ~string] struct {
	From  []S
	Event E
	To    S
}

func New[S ~string, E ~string](name string, edges ...Edge[S, E]) *Table[S, E] {
	t := &Table[S, E]{name: name, edges: make(map[Transition[S, E]]S)}
	for _, e := range edges {
		for _, from := range e.From {
			key := Transition[S, E]{From: from, Event: e.Event}
			if _, dup := t.edges[key]; dup {
				panic(fmt.Sprintf("statemachine %s: duplicate edge %s --%s-->", name, from, e.Event))
			}
			t.edges[key] = e.To
		}
	}
	return t
}

// Next returns the target state or an InvalidTransition error.
func (t *Table[S, E]) Next(from S, event E) (S, error) {
	if to, ok := t.edges[Transition[S, E]{From: from, Event: event}]; ok {
		return to, nil
	}
	var zero S
	return zero, errutil.Rejected(errutil.ReasonInvalidTransition,
		fmt.Sprintf("%s cannot %s from %s", t.name, event, from))
}

func (t *Table[S, E]) Can(from S, event E) bool {
	_, ok := t.edges[Transition[S, E]{From: from, Event: event}]
	return ok
}

// Events lists the events accepted from a state, sorted.
func (t *Table[S, E]) Events(from S) []E {
	var events []E
	for k := range t.edges {
		if k.From == from {
			events = append(events, k.Event)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}
