// Package grouper clusters pairwise duplicate judgments into connected
// groups for presentation, each with one primary task and its duplicates.
package grouper

import (
	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

// Group clusters pairs by a single online pass: the first task seen in a
// connected component becomes its primary. This deliberately does not
// re-balance after the fact, so a task's primary can depend on pair
// order. Callers that need order-independent primaries must sort the
// pairs first.
func Group(pairs []model.DuplicatePair) []model.DuplicateGroup {
	groups := make([]*model.DuplicateGroup, 0)
	byTask := make(map[string]*model.DuplicateGroup)

	for _, p := range pairs {
		a, b := p.TaskA, p.TaskB
		ga, inA := byTask[a.ID]
		gb, inB := byTask[b.ID]

		switch {
		case !inA && !inB:
			g := &model.DuplicateGroup{Primary: a, Duplicates: []model.Task{b}}
			groups = append(groups, g)
			byTask[a.ID] = g
			byTask[b.ID] = g

		case inA && !inB:
			appendDuplicate(ga, b)
			byTask[b.ID] = ga

		case !inA && inB:
			appendDuplicate(gb, a)
			byTask[a.ID] = gb

		default:
			// Both already grouped. If they landed in different groups the
			// pair bridges two components; fold the later group into the
			// earlier one, keeping the earlier primary.
			if ga != gb {
				merge(ga, gb, byTask)
				removeGroup(&groups, gb)
			}
		}
	}

	out := make([]model.DuplicateGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	return out
}

func appendDuplicate(g *model.DuplicateGroup, t model.Task) {
	if g.Primary.ID == t.ID {
		return
	}
	for _, d := range g.Duplicates {
		if d.ID == t.ID {
			return
		}
	}
	g.Duplicates = append(g.Duplicates, t)
}

func merge(dst, src *model.DuplicateGroup, byTask map[string]*model.DuplicateGroup) {
	appendDuplicate(dst, src.Primary)
	byTask[src.Primary.ID] = dst
	for _, d := range src.Duplicates {
		appendDuplicate(dst, d)
		byTask[d.ID] = dst
	}
}

func removeGroup(groups *[]*model.DuplicateGroup, g *model.DuplicateGroup) {
	for i, cand := range *groups {
		if cand == g {
			*groups = append((*groups)[:i], (*groups)[i+1:]...)
			return
		}
	}
}
