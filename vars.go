package track

import "sort"

// ID identifies a single scalar random variable coordinate.
type ID uint

// Vars is a variable scope: a sorted sequence of IDs with no duplicates.
type Vars []ID

// NewVars returns a sorted, de-duplicated scope built from ids.
func NewVars(ids ...ID) Vars {
	v := make(Vars, len(ids))
	copy(v, ids)
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })

	out := v[:0]
	for i, id := range v {
		if i == 0 || id != v[i-1] {
			out = append(out, id)
		}
	}

	return out
}

// Clone returns a copy of the scope.
func (v Vars) Clone() Vars {
	c := make(Vars, len(v))
	copy(c, v)

	return c
}

// Index returns the position of id in the scope or -1 if absent.
func (v Vars) Index(id ID) int {
	i := sort.Search(len(v), func(i int) bool { return v[i] >= id })
	if i < len(v) && v[i] == id {
		return i
	}

	return -1
}

// Contains reports whether id is in the scope.
func (v Vars) Contains(id ID) bool {
	return v.Index(id) >= 0
}

// Equal reports whether two scopes are identical.
func (v Vars) Equal(o Vars) bool {
	if len(v) != len(o) {
		return false
	}

	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}

	return true
}

// Intersect returns the sorted intersection of two scopes.
// Both scopes being sorted, it runs in O(n+m).
func (v Vars) Intersect(o Vars) Vars {
	out := make(Vars, 0, min(len(v), len(o)))

	i, j := 0, 0
	for i < len(v) && j < len(o) {
		switch {
		case v[i] < o[j]:
			i++
		case v[i] > o[j]:
			j++
		default:
			out = append(out, v[i])
			i++
			j++
		}
	}

	return out
}

// Union returns the sorted union of two scopes.
func (v Vars) Union(o Vars) Vars {
	out := make(Vars, 0, len(v)+len(o))

	i, j := 0, 0
	for i < len(v) && j < len(o) {
		switch {
		case v[i] < o[j]:
			out = append(out, v[i])
			i++
		case v[i] > o[j]:
			out = append(out, o[j])
			j++
		default:
			out = append(out, v[i])
			i++
			j++
		}
	}
	out = append(out, v[i:]...)
	out = append(out, o[j:]...)

	return out
}

// Diff returns the scope variables not present in o.
func (v Vars) Diff(o Vars) Vars {
	out := make(Vars, 0, len(v))
	for _, id := range v {
		if !o.Contains(id) {
			out = append(out, id)
		}
	}

	return out
}

// SubsetOf reports whether every scope variable is present in o.
func (v Vars) SubsetOf(o Vars) bool {
	for _, id := range v {
		if !o.Contains(id) {
			return false
		}
	}

	return true
}

// Pool tags the role of allocated variables.
type Pool int

const (
	// StatePool tags state coordinates (X)
	StatePool Pool = iota
	// MeasPool tags measurement coordinates (Z)
	MeasPool
	// AssocPool tags discrete association variables (A)
	AssocPool
)

// Allocator hands out monotonically increasing variable IDs.
// IDs are never recycled. The three pools are disjoint by construction:
// each allocation draws from a single global counter.
type Allocator struct {
	next  ID
	pools map[Pool]Vars
}

// NewAllocator creates a new variable ID allocator and returns it.
func NewAllocator() *Allocator {
	return &Allocator{
		pools: make(map[Pool]Vars),
	}
}

// Alloc allocates n fresh consecutive IDs in the given pool.
func (a *Allocator) Alloc(p Pool, n int) Vars {
	v := make(Vars, n)
	for i := 0; i < n; i++ {
		v[i] = a.next
		a.next++
	}
	a.pools[p] = append(a.pools[p], v...)

	return v
}

// Allocated returns all IDs handed out so far in the given pool.
func (a *Allocator) Allocated(p Pool) Vars {
	return a.pools[p].Clone()
}

// Clone returns a deep copy of the allocator.
func (a *Allocator) Clone() *Allocator {
	c := NewAllocator()
	c.next = a.next
	for p, v := range a.pools {
		c.pools[p] = v.Clone()
	}

	return c
}
