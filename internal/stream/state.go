package stream

import "sort"

// LightState holds the three normalized components pending for a light.
type LightState struct {
	A float64
	B float64
	C float64
}

// stateMap is the latest pending state per light. Not safe for concurrent
// use; the session guards it.
type stateMap struct {
	entries map[uint16]LightState
}

func newStateMap() *stateMap {
	return &stateMap{entries: make(map[uint16]LightState, MaxLights)}
}

func (m *stateMap) set(id uint16, s LightState) {
	m.entries[id] = s
}

func (m *stateMap) get(id uint16) (LightState, bool) {
	s, ok := m.entries[id]
	return s, ok
}

func (m *stateMap) has(id uint16) bool {
	_, ok := m.entries[id]
	return ok
}

func (m *stateMap) len() int {
	return len(m.entries)
}

func (m *stateMap) clear() {
	clear(m.entries)
}

// snapshot appends all entries to dst ordered by light ID.
func (m *stateMap) snapshot(dst []Record) []Record {
	for id, s := range m.entries {
		dst = append(dst, Record{ID: id, A: s.A, B: s.B, C: s.C})
	}
	sort.Slice(dst, func(i, j int) bool { return dst[i].ID < dst[j].ID })
	return dst
}
