// Package store provides in-memory implementations of the collaborator
// contracts in package generic.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// MEMORY DIRECTORY - In-memory employee directory (for testing/dev)
// =============================================================================

type Directory struct {
	mu        sync.RWMutex
	employees map[generic.EmployeeID]generic.Employee
	salaries  map[generic.EmployeeID][]generic.SalaryRecord
}

func NewDirectory(employees ...generic.Employee) *Directory {
	d := &Directory{
		employees: make(map[generic.EmployeeID]generic.Employee),
		salaries:  make(map[generic.EmployeeID][]generic.SalaryRecord),
	}
	for _, e := range employees {
		d.Put(e)
	}
	return d
}

// Put adds or replaces an employee.
func (d *Directory) Put(e generic.Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[e.ID] = e
}

// AddSalary appends a salary history record, keeping history ordered by date.
func (d *Directory) AddSalary(r generic.SalaryRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := append(d.salaries[r.EmployeeID], r)
	sort.SliceStable(h, func(i, j int) bool { return h[i].EffectiveDate.Before(h[j].EffectiveDate) })
	d.salaries[r.EmployeeID] = h
}

func (d *Directory) GetEmployee(_ context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.employees[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, id)
	}
	return &e, nil
}

func (d *Directory) ListActiveEmployees(_ context.Context) ([]generic.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []generic.Employee
	for _, e := range d.employees {
		if e.IsActive() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) SalaryHistory(_ context.Context, id generic.EmployeeID) ([]generic.SalaryRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.employees[id]; !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrEmployeeNotFound, id)
	}
	return append([]generic.SalaryRecord(nil), d.salaries[id]...), nil
}

// =============================================================================
// MEMORY AUDIT LOG
// =============================================================================

// AuditLog keeps entries in memory. Set Fail to simulate a broken sink.
type AuditLog struct {
	mu      sync.Mutex
	entries []generic.AuditEntry
	Fail    error
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) Append(_ context.Context, entry generic.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Fail != nil {
		return a.Fail
	}
	a.entries = append(a.entries, entry)
	return nil
}

// Entries returns a copy of all recorded entries.
func (a *AuditLog) Entries() []generic.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]generic.AuditEntry(nil), a.entries...)
}

// ByAction returns entries with the given action.
func (a *AuditLog) ByAction(action generic.AuditAction) []generic.AuditEntry {
	var out []generic.AuditEntry
	for _, e := range a.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
