package race

import (
	"sort"
	"strings"
	"time"
)

// SeedOrder sorts entrants for the initial display: fastest previous finish
// time first, then everyone without a seed alphabetically. Guests share one
// published identity, so they are never seeded. The input is not modified.
func SeedOrder(entrants []Entrant, seeds map[string]time.Duration) []Entrant {
	out := make([]Entrant, len(entrants))
	copy(out, entrants)
	seedOf := func(e Entrant) (time.Duration, bool) {
		if e.Guest || len(seeds) == 0 {
			return 0, false
		}
		d, ok := seeds[e.RepoID]
		return d, ok
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, iok := seedOf(out[i])
		sj, jok := seedOf(out[j])
		switch {
		case iok && jok && si != sj:
			return si < sj
		case iok != jok:
			return iok
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// DisplayOrder groups participants as running, then finished, then completed,
// keeping session order inside each group.
func DisplayOrder(participants []LiveParticipant) []LiveParticipant {
	rank := map[Status]int{StatusRunning: 0, StatusFinished: 1, StatusCompleted: 2}
	out := make([]LiveParticipant, len(participants))
	copy(out, participants)
	sort.SliceStable(out, func(i, j int) bool {
		return rank[out[i].Status] < rank[out[j].Status]
	})
	return out
}
