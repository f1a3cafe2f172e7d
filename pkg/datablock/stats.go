package datablock

import (
	"github.com/pkg/errors"
)

// StageStats accumulates execution counters for one stage. Stats are open
// while blocks are still flowing; Close seals them for reporting.
type StageStats struct {
	NumBlocks       int64 `json:"numBlocks"`
	NumRows         int64 `json:"numRows"`
	ExecutionTimeMs int64 `json:"executionTimeMs"`

	closed bool
}

// RecordBlock counts one received block.
func (s *StageStats) RecordBlock(numRows int) {
	s.NumBlocks++
	s.NumRows += int64(numRows)
}

// Merge folds other into s.
func (s *StageStats) Merge(other *StageStats) {
	s.NumBlocks += other.NumBlocks
	s.NumRows += other.NumRows
	if other.ExecutionTimeMs > s.ExecutionTimeMs {
		s.ExecutionTimeMs = other.ExecutionTimeMs
	}
}

// Close seals the stats and returns them.
func (s *StageStats) Close() *StageStats {
	s.closed = true
	return s
}

// Closed reports whether the stats are sealed.
func (s *StageStats) Closed() bool { return s.closed }

// MultiStageQueryStats carries the stats of one stage's stream together
// with the stats collected from all upstream stages, indexed by stage id.
type MultiStageQueryStats struct {
	currentStageID int32
	current        *StageStats
	upstream       []*StageStats
}

// NewMultiStageQueryStats creates empty stats for the given stage.
func NewMultiStageQueryStats(stageID int32) *MultiStageQueryStats {
	return &MultiStageQueryStats{currentStageID: stageID, current: &StageStats{}}
}

// CurrentStageID returns the stage the stats belong to.
func (m *MultiStageQueryStats) CurrentStageID() int32 { return m.currentStageID }

// CurrentStats returns the open stats of the current stage.
func (m *MultiStageQueryStats) CurrentStats() *StageStats { return m.current }

// MaxStageID returns the highest stage id with recorded stats.
func (m *MultiStageQueryStats) MaxStageID() int32 {
	maxStageID := m.currentStageID
	if int32(len(m.upstream))-1 > maxStageID {
		maxStageID = int32(len(m.upstream)) - 1
	}
	return maxStageID
}

// RecordUpstream merges stats for an upstream stage into position stageID.
func (m *MultiStageQueryStats) RecordUpstream(stageID int32, stats *StageStats) {
	for int32(len(m.upstream)) <= stageID {
		m.upstream = append(m.upstream, &StageStats{})
	}
	m.upstream[stageID].Merge(stats)
}

// UpstreamStageStats returns the stats recorded for an upstream stage.
func (m *MultiStageQueryStats) UpstreamStageStats(stageID int32) (*StageStats, error) {
	if stageID <= 0 || stageID >= int32(len(m.upstream)) {
		return nil, errors.Errorf("no stats recorded for stage %d", stageID)
	}
	return m.upstream[stageID], nil
}

// Merge folds the stats attached to an upstream end-of-stream block into m.
// The other side's current stage becomes one of m's upstream positions.
func (m *MultiStageQueryStats) Merge(other *MultiStageQueryStats) error {
	if other.currentStageID <= m.currentStageID {
		return errors.Errorf("cannot merge stats of stage %d into stage %d", other.currentStageID, m.currentStageID)
	}
	m.RecordUpstream(other.currentStageID, other.current)
	for stageID, stats := range other.upstream {
		if stats != nil && (stats.NumBlocks > 0 || stats.NumRows > 0 || stats.ExecutionTimeMs > 0) {
			m.RecordUpstream(int32(stageID), stats)
		}
	}
	return nil
}
