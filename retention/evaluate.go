package retention

import (
	"sort"
	"time"

	"github.com/vshn/timevault/engine/dto"
)

const (
	secondsPerHour = 60 * 60
	secondsPerDay  = 24 * secondsPerHour
)

// Decision is the outcome of Evaluate. Keep and Prune are disjoint, together
// they hold every evaluated record, newest first.
type Decision struct {
	Keep  []dto.Snapshot
	Prune []dto.Snapshot
	// Reasons maps the id of every kept snapshot to the bucket that kept it.
	Reasons map[string]Bucket
}

func (d Decision) KeepIDs() []string {
	return ids(d.Keep)
}

func (d Decision) PruneIDs() []string {
	return ids(d.Prune)
}

func ids(snaps []dto.Snapshot) []string {
	out := make([]string, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.ID)
	}
	return out
}

// Evaluate applies policy to records. It only depends on its arguments, now
// is the reference point of the slots.
//
// Buckets are processed from hourly to yearly. A bucket walks the records
// that are not kept yet from newest to oldest and keeps the newest record of
// every slot that no kept record occupies, until its count is used up.
func Evaluate(records []dto.Snapshot, policy Policy, now time.Time) Decision {
	sorted := append([]dto.Snapshot(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Newer(sorted[j])
	})

	kept := make([]bool, len(sorted))
	reasons := map[string]Bucket{}

	for _, bucket := range Buckets {
		count := policy.Count(bucket)
		if count == 0 {
			continue
		}

		occupied := map[int64]bool{}
		for i, s := range sorted {
			if kept[i] {
				occupied[slot(bucket, s.Time, now)] = true
			}
		}

		var used Count
		for i, s := range sorted {
			if !count.IsForever() && used >= count {
				break
			}
			if kept[i] {
				continue
			}
			key := slot(bucket, s.Time, now)
			if occupied[key] {
				continue
			}
			occupied[key] = true
			kept[i] = true
			reasons[s.ID] = bucket
			used++
		}
	}

	d := Decision{
		Keep:    make([]dto.Snapshot, 0),
		Prune:   make([]dto.Snapshot, 0),
		Reasons: reasons,
	}
	for i, s := range sorted {
		if kept[i] {
			d.Keep = append(d.Keep, s)
		} else {
			d.Prune = append(d.Prune, s)
		}
	}
	return d
}

// slot returns how many periods of the bucket t lies before now.
// Records after now get negative slots.
func slot(b Bucket, t, now time.Time) int64 {
	return period(b, now) - period(b, t)
}

// period numbers the calendar periods of a bucket in UTC.
func period(b Bucket, t time.Time) int64 {
	t = t.UTC()
	switch b {
	case Hourly:
		return floorDiv(t.Unix(), secondsPerHour)
	case Daily:
		return floorDiv(t.Unix(), secondsPerDay)
	case Weekly:
		// 1970-01-01 was a Thursday, ISO weeks start on Monday.
		return floorDiv(floorDiv(t.Unix(), secondsPerDay)+3, 7)
	case Monthly:
		return int64(t.Year())*12 + int64(t.Month()) - 1
	case Yearly:
		return int64(t.Year())
	}
	return 0
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
