// Package report assembles and renders the plaintext pool report.
package report

import (
	"sort"
	"time"

	"cagent/internal/condor"
	"cagent/internal/hostinfo"
)

// Pool is one collection cycle's worth of pool statistics.
type Pool struct {
	Site        string
	CycleID     string
	GeneratedAt time.Time
	LRMSVersion string
	Nodes       condor.NodeTotals
	VOJobs      map[string]condor.JobTotals
	Groups      map[string]condor.GroupTotals
	Host        hostinfo.Facts
}

// VOJobRow pairs a VO with its job totals for rendering.
type VOJobRow struct {
	VO string
	condor.JobTotals
}

// GroupRow pairs a VO with its group totals for rendering.
type GroupRow struct {
	VO string
	condor.GroupTotals
}

// Timestamp formats the generation time for the report header.
// Params: none.
// Returns: RFC 3339 UTC timestamp.
func (p Pool) Timestamp() string {
	return p.GeneratedAt.UTC().Format(time.RFC3339)
}

// JobRows returns the job summaries sorted by VO so repeated renders
// of the same data are byte-identical.
// Params: none.
// Returns: sorted job rows.
func (p Pool) JobRows() []VOJobRow {
	rows := make([]VOJobRow, 0, len(p.VOJobs))
	for vo, totals := range p.VOJobs {
		rows = append(rows, VOJobRow{VO: vo, JobTotals: totals})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].VO < rows[j].VO })
	return rows
}

// GroupRows returns the group summaries sorted by VO.
// Params: none.
// Returns: sorted group rows.
func (p Pool) GroupRows() []GroupRow {
	rows := make([]GroupRow, 0, len(p.Groups))
	for vo, totals := range p.Groups {
		rows = append(rows, GroupRow{VO: vo, GroupTotals: totals})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].VO < rows[j].VO })
	return rows
}
