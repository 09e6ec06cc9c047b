package plan

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

// DefaultHorizonDays bounds the forward scan when rebalancing.
const DefaultHorizonDays = 14

// ScheduleDay references the units placed on one date, in order.
type ScheduleDay struct {
	Date civil.Date `json:"date"`
	// RestDay marks a day taken off, e.g. after it was skipped.
	RestDay bool     `json:"rest_day"`
	TaskIDs []string `json:"task_ids"`
}

// Plan is a learner's schedule. Units live in a flat table keyed by id;
// days hold only id references.
type Plan struct {
	LearnerID   string                      `json:"learner_id"`
	Cycle       int                         `json:"cycle"`
	DailyBudget int                         `json:"daily_budget"`
	HorizonDays int                         `json:"horizon_days"`
	Tasks       map[string]*TaskUnit        `json:"tasks"`
	Order       []string                    `json:"order"`
	Days        map[civil.Date]*ScheduleDay `json:"days"`
	UpdatedAt   time.Time                   `json:"updated_at"`

	rest RestDays
}

// New creates an empty plan.
func New(learnerID string, dailyBudget, horizonDays int) *Plan {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &Plan{
		LearnerID:   learnerID,
		DailyBudget: dailyBudget,
		HorizonDays: horizonDays,
		Tasks:       make(map[string]*TaskUnit),
		Days:        make(map[civil.Date]*ScheduleDay),
	}
}

// UseCalendar sets the rest-day rule used by placement and rebalancing.
func (p *Plan) UseCalendar(r RestDays) {
	p.rest = r
}

func (p *Plan) ensureMaps() {
	if p.Tasks == nil {
		p.Tasks = make(map[string]*TaskUnit)
	}
	if p.Days == nil {
		p.Days = make(map[civil.Date]*ScheduleDay)
	}
}

// Add appends new units to the task table.
func (p *Plan) Add(units ...*TaskUnit) error {
	p.ensureMaps()
	for _, u := range units {
		switch {
		case u == nil || u.ID == "":
			return apperr.Invalid("plan.Add", "task unit without id")
		case u.DurationMinutes <= 0:
			return apperr.Invalid("plan.Add", "task %s has non-positive duration %d", u.ID, u.DurationMinutes)
		}
		if _, dup := p.Tasks[u.ID]; dup {
			return apperr.New("plan.Add", apperr.ErrConflict, "task %s already in plan", u.ID)
		}
		p.Tasks[u.ID] = u
		p.Order = append(p.Order, u.ID)
	}
	return nil
}

// Task returns the unit with id.
func (p *Plan) Task(id string) (*TaskUnit, error) {
	t, ok := p.Tasks[id]
	if !ok {
		return nil, apperr.NotFound("plan.Task", "task %s not in plan", id)
	}
	return t, nil
}

// Day returns the schedule for d, or nil when nothing was ever placed.
func (p *Plan) Day(d civil.Date) *ScheduleDay {
	return p.Days[d]
}

// TasksOn returns the units placed on d in order.
func (p *Plan) TasksOn(d civil.Date) []*TaskUnit {
	day := p.Days[d]
	if day == nil {
		return nil
	}
	out := make([]*TaskUnit, 0, len(day.TaskIDs))
	for _, id := range day.TaskIDs {
		if t, ok := p.Tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Used returns the minutes already booked on d.
func (p *Plan) Used(d civil.Date) int {
	total := 0
	for _, t := range p.TasksOn(d) {
		total += t.DurationMinutes
	}
	return total
}

// IsRestDay reports whether d takes no new work.
func (p *Plan) IsRestDay(d civil.Date) bool {
	if day := p.Days[d]; day != nil && day.RestDay {
		return true
	}
	return p.rest != nil && p.rest.IsRestDay(d)
}

func (p *Plan) fits(d civil.Date, minutes int) bool {
	return !p.IsRestDay(d) && p.Used(d)+minutes <= p.DailyBudget
}

// Place puts a unit on date. Without override it fails with
// apperr.ErrCapacityExceeded when the day would exceed the daily budget or
// is a rest day. Placing an already placed unit moves it.
func (p *Plan) Place(taskID string, date civil.Date, override bool, now time.Time) error {
	const op = "plan.Place"
	if !date.IsValid() {
		return apperr.Invalid(op, "invalid date %v", date)
	}
	t, err := p.Task(taskID)
	if err != nil {
		return err
	}
	if !t.State.canMoveTo(StatePlaced) {
		return apperr.New(op, apperr.ErrStateTransition, "task %s is %s", t.ID, t.State)
	}

	if t.ScheduledDate != nil && *t.ScheduledDate == date {
		return nil
	}
	if !override {
		if p.IsRestDay(date) {
			return apperr.New(op, apperr.ErrCapacityExceeded, "%s is a rest day", date)
		}
		if used := p.Used(date); used+t.DurationMinutes > p.DailyBudget {
			return apperr.New(op, apperr.ErrCapacityExceeded,
				"%s has %d of %d minutes booked; task %s needs %d", date, used, p.DailyBudget, t.ID, t.DurationMinutes)
		}
	}

	if t.ScheduledDate != nil {
		from := *t.ScheduledDate
		p.detach(t)
		to := date
		t.History = append(t.History, Reschedule{From: from, To: &to, Reason: ReasonManualMove, At: now.UTC()})
	}
	p.attach(t, date)
	return t.moveTo(op, StatePlaced)
}

func (p *Plan) attach(t *TaskUnit, d civil.Date) {
	p.ensureMaps()
	day := p.Days[d]
	if day == nil {
		day = &ScheduleDay{Date: d}
		p.Days[d] = day
	}
	day.TaskIDs = append(day.TaskIDs, t.ID)
	date := d
	t.ScheduledDate = &date
}

func (p *Plan) detach(t *TaskUnit) {
	if t.ScheduledDate == nil {
		return
	}
	if day := p.Days[*t.ScheduledDate]; day != nil {
		day.TaskIDs = slices.DeleteFunc(day.TaskIDs, func(id string) bool { return id == t.ID })
	}
	t.ScheduledDate = nil
}

// Complete marks a placed unit done at the given time.
func (p *Plan) Complete(taskID string, at time.Time) (*TaskUnit, error) {
	t, err := p.Task(taskID)
	if err != nil {
		return nil, err
	}
	if err := t.moveTo("plan.Complete", StateCompleted); err != nil {
		return nil, err
	}
	done := at.UTC()
	t.CompletedAt = &done
	return t, nil
}

// Move records one rescheduled unit.
type Move struct {
	TaskID string     `json:"task_id"`
	From   civil.Date `json:"from"`
	To     civil.Date `json:"to"`
}

// SkipResult reports what SkipDay did.
type SkipResult struct {
	Moved       []Move   `json:"moved"`
	Unscheduled []string `json:"unscheduled"`
}

// Err returns apperr.ErrUnscheduled when some units found no slot.
func (r *SkipResult) Err() error {
	if len(r.Unscheduled) == 0 {
		return nil
	}
	return apperr.New("plan.SkipDay", apperr.ErrUnscheduled, "%d task(s) found no slot within the horizon", len(r.Unscheduled))
}

// SkipDay moves every placed, incomplete unit on date to the first later
// day within the horizon that is not a rest day and has room, in their
// original order. Units with no slot become unscheduled. The emptied day is
// marked as a rest day. A day with nothing to move is left untouched.
func (p *Plan) SkipDay(date civil.Date, now time.Time) (*SkipResult, error) {
	const op = "plan.SkipDay"
	if !date.IsValid() {
		return nil, apperr.Invalid(op, "invalid date %v", date)
	}

	var pending []*TaskUnit
	for _, t := range p.TasksOn(date) {
		if t.State == StatePlaced {
			pending = append(pending, t)
		}
	}
	res := &SkipResult{Moved: []Move{}, Unscheduled: []string{}}
	if len(pending) == 0 {
		return res, nil
	}

	p.Days[date].RestDay = true
	at := now.UTC()
	for _, t := range pending {
		p.detach(t)
		if err := t.moveTo(op, StateRescheduled); err != nil {
			return nil, err
		}

		target, ok := p.findSlot(date, t.DurationMinutes)
		if !ok {
			if err := t.moveTo(op, StateUnscheduled); err != nil {
				return nil, err
			}
			t.History = append(t.History, Reschedule{From: date, Reason: ReasonNoSlot, At: at})
			res.Unscheduled = append(res.Unscheduled, t.ID)
			continue
		}

		p.attach(t, target)
		to := target
		t.History = append(t.History, Reschedule{From: date, To: &to, Reason: ReasonDaySkipped, At: at})
		if err := t.moveTo(op, StatePlaced); err != nil {
			return nil, err
		}
		res.Moved = append(res.Moved, Move{TaskID: t.ID, From: date, To: target})
	}
	return res, nil
}

func (p *Plan) horizon() int {
	if p.HorizonDays <= 0 {
		return DefaultHorizonDays
	}
	return p.HorizonDays
}

// findSlot scans the days after from, up to the horizon.
func (p *Plan) findSlot(from civil.Date, minutes int) (civil.Date, bool) {
	for i := 1; i <= p.horizon(); i++ {
		d := from.AddDays(i)
		if p.fits(d, minutes) {
			return d, true
		}
	}
	return civil.Date{}, false
}

// AutoPlace first-fits every unplaced unit, in creation order, onto days
// from start through the horizon. It returns the ids left unplaced.
func (p *Plan) AutoPlace(start civil.Date) []string {
	left := []string{}
	for _, id := range p.Order {
		t := p.Tasks[id]
		if t == nil || t.State != StateUnplaced {
			continue
		}
		placed := false
		for i := 0; i < p.horizon(); i++ {
			d := start.AddDays(i)
			if p.fits(d, t.DurationMinutes) {
				p.attach(t, d)
				t.State = StatePlaced
				placed = true
				break
			}
		}
		if !placed {
			left = append(left, id)
		}
	}
	return left
}

// ByState returns units in creation order whose state is s.
func (p *Plan) ByState(s State) []*TaskUnit {
	var out []*TaskUnit
	for _, id := range p.Order {
		if t := p.Tasks[id]; t != nil && t.State == s {
			out = append(out, t)
		}
	}
	return out
}

// CompletedCount counts completed units matching keep.
func (p *Plan) CompletedCount(keep func(*TaskUnit) bool) int {
	n := 0
	for _, t := range p.Tasks {
		if t.Completed() && (keep == nil || keep(t)) {
			n++
		}
	}
	return n
}

// Dates returns the dates with a schedule entry, ascending.
func (p *Plan) Dates() []civil.Date {
	out := make([]civil.Date, 0, len(p.Days))
	for d := range p.Days {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b civil.Date) int {
		switch {
		case a.Before(b):
			return -1
		case a.After(b):
			return 1
		}
		return 0
	})
	return out
}
