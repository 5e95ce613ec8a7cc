package duplicate

import (
	"sort"

	"github.com/ehr/patientcore/internal/domain/patient"
)

// Group is the transitive closure of candidate pairs. Patients are ordered
// by creation time, so Patients[0] is the default merge target.
type Group struct {
	Patients []*patient.Patient `json:"patients"`
	Signals  []string           `json:"signals"`
}

// Target returns the record the rest of the group merges into.
func (g Group) Target() *patient.Patient {
	if len(g.Patients) == 0 {
		return nil
	}
	return g.Patients[0]
}

// Sources returns every member other than the target.
func (g Group) Sources() []*patient.Patient {
	if len(g.Patients) < 2 {
		return nil
	}
	return g.Patients[1:]
}

// disjointSet is a union-find over patient indexes.
type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range ds.parent {
		ds.parent[i] = i
	}
	return ds
}

func (ds *disjointSet) find(i int) int {
	for ds.parent[i] != i {
		ds.parent[i] = ds.parent[ds.parent[i]]
		i = ds.parent[i]
	}
	return i
}

func (ds *disjointSet) union(a, b int) {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return
	}
	switch {
	case ds.rank[ra] < ds.rank[rb]:
		ds.parent[ra] = rb
	case ds.rank[ra] > ds.rank[rb]:
		ds.parent[rb] = ra
	default:
		ds.parent[rb] = ra
		ds.rank[ra]++
	}
}

// GroupPatients partitions patients into duplicate groups of two or more.
// Records are bucketed by signal key, so the cost is linear in the number of
// patients rather than quadratic in pairs.
func GroupPatients(patients []*patient.Patient) []Group {
	type link struct {
		idx    int
		signal string
	}
	ds := newDisjointSet(len(patients))
	first := make(map[string]int)
	var links []link

	for i, p := range patients {
		d := p.Demographics().Normalize()
		for _, s := range Signals {
			key, ok := s.Key(d)
			if !ok {
				continue
			}
			k := s.Name + "\x1f" + key
			if j, exists := first[k]; exists {
				ds.union(j, i)
				links = append(links, link{idx: i, signal: s.Name})
				continue
			}
			first[k] = i
		}
	}

	members := make(map[int][]*patient.Patient)
	for i, p := range patients {
		root := ds.find(i)
		members[root] = append(members[root], p)
	}
	signals := make(map[int]map[string]bool)
	for _, l := range links {
		root := ds.find(l.idx)
		if signals[root] == nil {
			signals[root] = make(map[string]bool)
		}
		signals[root][l.signal] = true
	}

	var groups []Group
	for root, ps := range members {
		if len(ps) < 2 {
			continue
		}
		sortByAge(ps)
		groups = append(groups, Group{Patients: ps, Signals: orderedSignals(signals[root])})
	}
	sort.Slice(groups, func(i, j int) bool {
		return olderThan(groups[i].Patients[0], groups[j].Patients[0])
	})
	return groups
}

func orderedSignals(set map[string]bool) []string {
	var out []string
	for _, s := range Signals {
		if set[s.Name] {
			out = append(out, s.Name)
		}
	}
	return out
}

func sortByAge(ps []*patient.Patient) {
	sort.Slice(ps, func(i, j int) bool { return olderThan(ps[i], ps[j]) })
}

// olderThan orders by created_at, breaking ties on id so ordering is stable
// across scans.
func olderThan(a, b *patient.Patient) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
