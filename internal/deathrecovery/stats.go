package deathrecovery

import "time"

// Stats counts recovery outcomes.
type Stats struct {
	Deaths          uint64
	DuplicateDeaths uint64

	CorpseRuns          uint64
	SpiritHealer        uint64
	BattleResurrections uint64
	ForcedResurrections uint64
	WithSickness        uint64
	ForcedResets        uint64
	Failures            uint64
	Retries             uint64
	Timeouts            uint64
	GaveUp              uint64
	PinnedCorpses       uint64 // corpse resurrections done under a reference
	Debounced           uint64
	Rejected            uint64
	TotalRecoveryTime   time.Duration
	LongestRecoveryTime time.Duration
	LastRecoveryTime    time.Duration
}

// Resurrections returns resurrections by every method.
func (s Stats) Resurrections() uint64 {
	return s.CorpseRuns + s.SpiritHealer + s.BattleResurrections + s.ForcedResurrections
}

// AvgRecoveryTime returns the mean time from death to resurrection.
func (s Stats) AvgRecoveryTime() time.Duration {
	n := s.Resurrections()
	if n == 0 {
		return 0
	}
	return s.TotalRecoveryTime / time.Duration(n)
}

func (s *Stats) record(method Method, took time.Duration) {
	switch method {
	case MethodCorpseRun:
		s.CorpseRuns++
	case MethodSpiritHealer:
		s.SpiritHealer++
	case MethodBattleResurrection:
		s.BattleResurrections++
	default:
		s.ForcedResurrections++
	}
	s.TotalRecoveryTime += took
	s.LongestRecoveryTime = max(s.LongestRecoveryTime, took)
	s.LastRecoveryTime = took
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Deaths += o.Deaths
	s.DuplicateDeaths += o.DuplicateDeaths
	s.CorpseRuns += o.CorpseRuns
	s.SpiritHealer += o.SpiritHealer
	s.BattleResurrections += o.BattleResurrections
	s.ForcedResurrections += o.ForcedResurrections
	s.WithSickness += o.WithSickness
	s.ForcedResets += o.ForcedResets
	s.Failures += o.Failures
	s.Retries += o.Retries
	s.Timeouts += o.Timeouts
	s.GaveUp += o.GaveUp
	s.PinnedCorpses += o.PinnedCorpses
	s.Debounced += o.Debounced
	s.Rejected += o.Rejected
	s.TotalRecoveryTime += o.TotalRecoveryTime
	s.LongestRecoveryTime = max(s.LongestRecoveryTime, o.LongestRecoveryTime)
	if o.LastRecoveryTime > 0 {
		s.LastRecoveryTime = o.LastRecoveryTime
	}
}
