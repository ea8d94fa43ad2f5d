package scheduler

import (
	"fmt"
	"time"
)

// Cadence decides when a job is due.
type Cadence interface {
	// First returns when the job is first due after the scheduler starts at now.
	First(now time.Time) time.Time
	// Next returns when the job is due again after a run that started at start and ended at end.
	Next(start, end time.Time) time.Time
}

// MinContinuousGap is the shortest pause a Continuous job gets between runs.
const MinContinuousGap = time.Second

// Continuous runs back-to-back: immediately at startup, then Gap after each run
// ends. A Gap below MinContinuousGap is raised to it.
type Continuous struct {
	Gap time.Duration
}

func (c Continuous) First(now time.Time) time.Time       { return now }
func (c Continuous) Next(start, end time.Time) time.Time { return end.Add(c.gap()) }
func (c Continuous) String() string                      { return fmt.Sprintf("continuous (gap %s)", c.gap()) }

func (c Continuous) gap() time.Duration {
	if c.Gap < MinContinuousGap {
		return MinContinuousGap
	}
	return c.Gap
}

// Every fires on boundaries of Interval, shifted by Offset, e.g. Every{Interval: 8 * time.Hour}
// fires at 00:00, 08:00 and 16:00 UTC. Interval must be positive.
type Every struct {
	Interval time.Duration
	Offset   time.Duration
}

func (e Every) First(now time.Time) time.Time       { return e.after(now) }
func (e Every) Next(start, end time.Time) time.Time { return e.after(end) }
func (e Every) String() string                      { return fmt.Sprintf("every %s", e.Interval) }

func (e Every) after(t time.Time) time.Time {
	b := t.Truncate(e.Interval).Add(e.Offset)
	for !b.After(t) {
		b = b.Add(e.Interval)
	}
	return b
}

// DaysAt fires at Hour:00 on every Days-th day of the month (1, 1+Days, ...),
// like the cron expression "0 Hour */Days * *".
type DaysAt struct {
	Days     int
	Hour     int
	Location *time.Location
}

func (d DaysAt) First(now time.Time) time.Time       { return d.after(now) }
func (d DaysAt) Next(start, end time.Time) time.Time { return d.after(end) }
func (d DaysAt) String() string                      { return fmt.Sprintf("every %d day(s) at %02d:00", d.Days, d.Hour) }

func (d DaysAt) after(t time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	step := d.Days
	if step < 1 {
		step = 1
	}
	lt := t.In(loc)
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), d.Hour, 0, 0, 0, loc)
	// A matching day always exists within two months.
	for i := 0; i < 64; i++ {
		if (day.Day()-1)%step == 0 && day.After(t) {
			return day
		}
		day = day.AddDate(0, 0, 1)
	}
	return day
}
