package recorder

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// RunSummary condenses the snapshots of one run.
type RunSummary struct {
	RunID     string
	Snapshots int
	// FinalTick is the tick counter of the last snapshot.
	FinalTick  int
	FinalPhase string
	// ZoneFireTick is the tick on which the zone disarmed, or -1.
	ZoneFireTick int
	// LaunchTick is the first tick with a non-circling interceptor, or -1.
	LaunchTick int
	HitCount   int
	// HitBy lists the interceptors flagged as hit, in snapshot order.
	HitBy []string
	// ClosestApproachMeters is the smallest interceptor to target distance
	// observed after launch, keyed by interceptor id.
	ClosestApproachMeters map[string]float64
}

// Summarize groups snaps by run id, preserving first-seen order.
func Summarize(snaps []model.Snapshot) []RunSummary {
	var out []RunSummary
	index := make(map[string]int)
	for _, s := range snaps {
		i, ok := index[s.RunID]
		if !ok {
			i = len(out)
			index[s.RunID] = i
			out = append(out, RunSummary{
				RunID:                 s.RunID,
				ZoneFireTick:          -1,
				LaunchTick:            -1,
				ClosestApproachMeters: make(map[string]float64),
			})
		}
		out[i].add(s)
	}
	return out
}

func (rs *RunSummary) add(s model.Snapshot) {
	rs.Snapshots++
	rs.FinalTick = s.Tick
	rs.FinalPhase = s.Phase
	rs.HitCount = s.HitCount
	if rs.ZoneFireTick < 0 && !s.ZoneArmed && s.Tick > 0 {
		rs.ZoneFireTick = s.Tick
	}

	rs.HitBy = rs.HitBy[:0]
	for _, e := range s.Entities {
		if e.Role != model.RoleInterceptor.String() {
			continue
		}
		if e.HasHit {
			rs.HitBy = append(rs.HitBy, e.ID)
		}
		if e.State == model.StateCircling.String() {
			continue
		}
		if rs.LaunchTick < 0 {
			rs.LaunchTick = s.Tick
		}
		if d, ok := rs.ClosestApproachMeters[e.ID]; !ok || e.DistanceToTargetMeters < d {
			rs.ClosestApproachMeters[e.ID] = e.DistanceToTargetMeters
		}
	}
}

// Fprint writes a human-readable report of summaries.
func Fprint(w io.Writer, summaries []RunSummary) {
	for _, rs := range summaries {
		fmt.Fprintf(w, "run %s: %d snapshots, final tick %d, phase %s\n",
			rs.RunID, rs.Snapshots, rs.FinalTick, rs.FinalPhase)
		fmt.Fprintf(w, "  zone fired at tick %s, launch at tick %s\n",
			tickString(rs.ZoneFireTick), tickString(rs.LaunchTick))
		fmt.Fprintf(w, "  hits: %d", rs.HitCount)
		if len(rs.HitBy) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(rs.HitBy, ", "))
		}
		fmt.Fprintln(w)

		ids := make([]string, 0, len(rs.ClosestApproachMeters))
		for id := range rs.ClosestApproachMeters {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  %-10s closest approach %.0f m\n", id, rs.ClosestApproachMeters[id])
		}
	}
}

func tickString(t int) string {
	if t < 0 {
		return "-"
	}
	return fmt.Sprint(t)
}
