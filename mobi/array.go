package mobi

import "sort"

// Uint32Array is a growable list of uint32 values, used to collect the KF7
// filepos link targets, whose count isn't known until the whole markup has
// been scanned.
type Uint32Array struct {
	data []uint32
}

// NewUint32Array returns an array pre-sized for at least cap values.
func NewUint32Array(cap int) *Uint32Array {
	return &Uint32Array{data: make([]uint32, 0, cap)}
}

// Insert appends a value.
func (a *Uint32Array) Insert(value uint32) {
	a.data = append(a.data, value)
}

// Sort orders the array ascending. When unique is true, duplicate values
// are discarded after sorting.
func (a *Uint32Array) Sort(unique bool) {
	if len(a.data) == 0 {
		return
	}
	sort.Slice(a.data, func(i, j int) bool { return a.data[i] < a.data[j] })
	if !unique {
		return
	}
	j := 1
	for i := 1; i < len(a.data); i++ {
		if a.data[j-1] == a.data[i] {
			continue
		}
		a.data[j] = a.data[i]
		j++
	}
	a.data = a.data[:j]
}

// Size returns the number of values currently held.
func (a *Uint32Array) Size() int { return len(a.data) }

// Values returns the underlying slice (not a copy).
func (a *Uint32Array) Values() []uint32 { return a.data }
