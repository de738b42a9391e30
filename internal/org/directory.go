package org

// Directory is an immutable in-memory view of the organization chart,
// consumed by the coordinator and the risk gate on every signal. Rebuild
// and swap it to pick up organizational changes.
type Directory struct {
	funds       map[string]Fund
	assignments map[assignment]struct{}
}

type assignment struct {
	manager string
	fund    string
}

// NewDirectory builds a directory from a fund set, including manager
// assignments.
func NewDirectory(funds []Fund) *Directory {
	d := &Directory{
		funds:       make(map[string]Fund, len(funds)),
		assignments: make(map[assignment]struct{}),
	}
	for _, fund := range funds {
		d.funds[fund.ID] = fund
		for _, manager := range fund.Managers {
			d.assignments[assignment{manager: manager.ID, fund: fund.ID}] = struct{}{}
		}
	}
	return d
}

// Fund returns a fund by id.
func (d *Directory) Fund(id string) (Fund, bool) {
	fund, ok := d.funds[id]
	return fund, ok
}

// IsAssigned reports whether the manager is assigned to the fund. An empty
// manager is treated as an internal (non-manager) origin and passes.
func (d *Directory) IsAssigned(manager, fund string) bool {
	if manager == "" {
		return true
	}
	_, ok := d.assignments[assignment{manager: manager, fund: fund}]
	return ok
}

// Len returns the number of funds.
func (d *Directory) Len() int {
	return len(d.funds)
}
