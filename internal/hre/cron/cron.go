// Package cron implements the cron HRE (spec §6/§8 scenario 6): schedule
// parsing and add/ls/rm against github.com/robfig/cron/v3, each fire
// enqueuing a cron:<tag> event. Grounded on the teacher's
// services/automation trigger-execution pattern (checkAndExecuteTriggers /
// executeTrigger), generalized from a DB-persisted trigger table to an
// in-memory schedule table the way a single-process engine needs.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/hre"
	"github.com/hermes-engine/hermes/internal/queue"
)

type scheduleKey struct {
	appName string
	tag     string
}

type entry struct {
	schedule  string
	sched     cron.Schedule
	retrigger bool
	entryID   cron.EntryID
}

// oneShotSchedule fires exactly once, at a fixed instant, rather than
// repeating. A standard 5-field crontab expression always has another
// occurrence (every field wraps around), so it can never be the schedule
// that makes the "last" Open Question decision observable; a one-shot
// schedule is what actually exhausts. Grounded on the teacher's
// MaxExecutions/ExecutionCount bound in
// services/automation/automation_triggers.go, which marks a trigger
// TriggerStatusExpired once its execution count is used up — generalized
// here from a count ceiling to a schedule that is finite by construction.
type oneShotSchedule struct {
	at time.Time
}

func (s oneShotSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// parseSchedule accepts a standard 5-field crontab expression, or an
// RFC3339 timestamp naming a single future instant.
func parseSchedule(spec string) (cron.Schedule, error) {
	if at, err := time.Parse(time.RFC3339, spec); err == nil {
		return oneShotSchedule{at: at}, nil
	}
	return cron.ParseStandard(spec)
}

// Provider is the process-wide cron singleton every application shares
// (spec §4.7).
type Provider struct {
	q *queue.Queue

	mu      sync.Mutex
	c       *cron.Cron
	entries map[scheduleKey]*entry

	// last marks schedules that have fired their final occurrence; the
	// dispatcher's retrigger hint is ignored for these (Open Question
	// decision in SPEC_FULL.md — a bounded schedule never resurrects).
	last map[scheduleKey]bool
}

var _ hre.CronProvider = (*Provider)(nil)

// New builds and starts a cron Provider that enqueues cron:<tag> events
// onto q.
func New(q *queue.Queue) *Provider {
	p := &Provider{
		q:       q,
		c:       cron.New(),
		entries: make(map[scheduleKey]*entry),
		last:    make(map[scheduleKey]bool),
	}
	p.c.Start()
	return p
}

// Add registers a schedule for appName/tag (spec §8 scenario 6:
// add({"* * * * *", "t"}, retrigger=true)).
func (p *Provider) Add(ctx context.Context, appName, schedule, tag string, retrigger bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := scheduleKey{appName: appName, tag: tag}
	if existing, ok := p.entries[key]; ok {
		p.c.Remove(existing.entryID)
		delete(p.entries, key)
	}

	sched, err := parseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("parsing cron schedule %q: %w", schedule, err)
	}
	id := p.c.Schedule(sched, cron.FuncJob(func() { p.fire(appName, tag) }))

	p.entries[key] = &entry{schedule: schedule, sched: sched, retrigger: retrigger, entryID: id}
	delete(p.last, key)
	return nil
}

// List returns every schedule registered for appName.
func (p *Provider) List(ctx context.Context, appName string) ([]hre.CronEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []hre.CronEntry
	for key, e := range p.entries {
		if key.appName != appName {
			continue
		}
		out = append(out, hre.CronEntry{Tag: key.tag, Schedule: e.schedule, Retrigger: e.retrigger})
	}
	return out, nil
}

// Remove cancels a schedule.
func (p *Provider) Remove(ctx context.Context, appName, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := scheduleKey{appName: appName, tag: tag}
	e, ok := p.entries[key]
	if !ok {
		return fmt.Errorf("no cron schedule for app %q tag %q", appName, tag)
	}
	p.c.Remove(e.entryID)
	delete(p.entries, key)
	delete(p.last, key)
	return nil
}

func (p *Provider) fire(appName, tag string) {
	key := tag2key(appName, tag)

	p.mu.Lock()
	dropped := p.last[key]
	e := p.entries[key]
	p.mu.Unlock()
	if dropped {
		return
	}

	_ = p.q.Enqueue(&event.Event{
		SourceTag: event.CronSource(tag),
		StreamKey: tag,
		Target:    event.Target{AppNames: []string{appName}},
		Payload:   []byte(tag),
	})

	// A schedule whose own Next() is exhausted (a one-shot schedule that
	// has already fired) marks itself last here, independent of whatever
	// retrigger hint the handler eventually returns — the schedule simply
	// has no further occurrence to resurrect.
	if e != nil && e.sched.Next(time.Now()).IsZero() {
		p.mu.Lock()
		p.last[key] = true
		p.mu.Unlock()
	}
}

// ApplyRetrigger is called by the dispatcher's retrigger callback after a
// cron handler returns. A false hint removes the schedule. last is an
// additional, caller-driven way to mark a schedule permanently done
// (matching fire()'s own schedule-exhaustion check for one-shot
// schedules); per the Open Question decision, a true retrigger hint never
// resurrects a schedule that has already produced its final occurrence.
func (p *Provider) ApplyRetrigger(appName, tag string, last, retrigger bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := scheduleKey{appName: appName, tag: tag}
	if last {
		p.last[key] = true
		return
	}
	if !retrigger {
		if e, ok := p.entries[key]; ok {
			p.c.Remove(e.entryID)
			delete(p.entries, key)
		}
	}
}

func tag2key(appName, tag string) scheduleKey { return scheduleKey{appName: appName, tag: tag} }
