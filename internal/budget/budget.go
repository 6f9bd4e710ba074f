package budget

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionBudget is the persisted session loss state. It is the only state
// that must survive process restarts: a kill decision taken before a crash
// stays taken after one.
type SessionBudget struct {
	Date          string  `json:"date"` // session day, YYYY-MM-DD
	DailyBudget   float64 `json:"daily_budget"`
	MaxLossPct    float64 `json:"max_loss_pct"`
	StartEquity   float64 `json:"start_equity"`
	CurrentLoss   float64 `json:"current_loss"`
	KillTriggered bool    `json:"kill_triggered"`
}

// LossLimit returns the absolute loss that trips the kill-switch.
func (b SessionBudget) LossLimit() float64 {
	return b.DailyBudget * b.MaxLossPct
}

// Store owns the budget file. Single writer: only the guardian holds a
// Store, so there is no cross-component locking.
type Store struct {
	path   string
	budget SessionBudget
}

// Load opens the budget file, starting a fresh session when the file is
// missing or dated before today. A kill triggered earlier today survives
// the reload.
func Load(path string, dailyBudget, maxLossPct float64) (*Store, error) {
	s := &Store{path: path}
	today := time.Now().Format("2006-01-02")

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fresh session
	case err != nil:
		return nil, fmt.Errorf("failed to read budget file: %w", err)
	default:
		if err := json.Unmarshal(data, &s.budget); err != nil {
			return nil, fmt.Errorf("failed to parse budget file: %w", err)
		}
	}

	if s.budget.Date != today {
		s.budget = SessionBudget{Date: today}
	}

	s.budget.DailyBudget = dailyBudget
	s.budget.MaxLossPct = maxLossPct

	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns a copy of the current budget state.
func (s *Store) Snapshot() SessionBudget {
	return s.budget
}

// SetStartEquity records the session's reference equity once; later calls
// with a new value are ignored so the loss baseline never drifts.
func (s *Store) SetStartEquity(equity float64) error {
	if s.budget.StartEquity != 0 {
		return nil
	}
	s.budget.StartEquity = equity
	return s.save()
}

// UpdateLoss recomputes the session loss from current equity and persists
// it. Gains clamp to zero loss rather than banking a credit against the
// limit.
func (s *Store) UpdateLoss(currentEquity float64) (float64, error) {
	if s.budget.StartEquity == 0 {
		return 0, nil
	}
	loss := s.budget.StartEquity - currentEquity
	if loss < 0 {
		loss = 0
	}
	s.budget.CurrentLoss = loss
	return loss, s.save()
}

// Exceeded reports whether the session loss has breached the limit.
func (s *Store) Exceeded() bool {
	return s.budget.CurrentLoss > s.budget.LossLimit()
}

// KillTriggered reports whether the kill-switch has fired this session.
func (s *Store) KillTriggered() bool {
	return s.budget.KillTriggered
}

// TriggerKill marks the kill-switch fired. The transition is one-way;
// nothing in the process ever sets it back.
func (s *Store) TriggerKill() error {
	if s.budget.KillTriggered {
		return nil
	}
	s.budget.KillTriggered = true
	return s.save()
}

// save writes the budget atomically: temp file then rename, so a crash
// mid-write never leaves a corrupt file that would lose a kill decision.
func (s *Store) save() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create budget directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(s.budget, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal budget: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write budget file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace budget file: %w", err)
	}
	return nil
}
