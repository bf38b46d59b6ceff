package common

import (
	"errors"
	"sync"
)

// ErrOperationSuspended is returned when a guarded entry point is invoked
// while its section is suspended.
var ErrOperationSuspended = errors.New("operation suspended")

// Well-known suspension sections checked by the collateral engine.
const (
	SectionSystem      = "system"
	SectionIssuance    = "issuance"
	SectionCollateral  = "collateral"
	SectionLiquidation = "liquidation"
)

// SuspensionView reports whether a protocol section is currently suspended.
// A nil view suspends nothing.
type SuspensionView interface {
	IsSuspended(section string) bool
}

// SuspensionSwitch is an in-process SuspensionView with operator toggles.
type SuspensionSwitch struct {
	mu        sync.RWMutex
	suspended map[string]bool
}

// NewSuspensionSwitch returns a switch with every section live.
func NewSuspensionSwitch() *SuspensionSwitch {
	return &SuspensionSwitch{suspended: make(map[string]bool)}
}

// Suspend marks a section suspended.
func (s *SuspensionSwitch) Suspend(section string) {
	s.mu.Lock()
	s.suspended[section] = true
	s.mu.Unlock()
}

// Resume lifts a suspension.
func (s *SuspensionSwitch) Resume(section string) {
	s.mu.Lock()
	delete(s.suspended, section)
	s.mu.Unlock()
}

// IsSuspended implements SuspensionView.
func (s *SuspensionSwitch) IsSuspended(section string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended[section]
}

// Guard fails fast when any of the supplied sections is suspended. Every
// state-mutating entry point is expected to call this before touching state.
func Guard(view SuspensionView, sections ...string) error {
	if view == nil {
		return nil
	}
	for _, section := range sections {
		if section == "" {
			continue
		}
		if view.IsSuspended(section) {
			return ErrOperationSuspended
		}
	}
	return nil
}
