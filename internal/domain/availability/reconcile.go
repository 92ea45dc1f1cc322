package availability

import (
	"sort"
	"time"
)

const minutesPerDay = 24 * 60

// Reconcile derives the bookable slots of one doctor for a specialty on
// date. It is pure: the same inputs always give the same slots, in
// ascending order and unique by start time.
//
// Regular entries of the specialty for the weekday of date produce slots
// stepped by their duration while the slot still ends inside the block.
// Extra availability of the specialty adds slots over its window clipped
// to the date. Unavailability of the doctor removes every slot starting
// inside its window, whatever the specialty. Slots whose start matches a
// booking that still holds are dropped last. When two entries yield the
// same start time, the first entry wins.
func Reconcile(date time.Time, especialidad int, regular []RegularEntry, exceptions []ExceptionalEntry, bookings []Booking) []Slot {
	day := StartOfDay(date)
	fecha := day.Format(DateLayout)
	weekday := ISOWeekday(day)

	slots := make(map[TimeOfDay]Slot)
	add := func(from, to TimeOfDay, minutes int, sucursal *int) {
		if minutes <= 0 {
			return
		}
		for t := from; int(t)+minutes <= int(to); t += TimeOfDay(minutes) {
			if _, dup := slots[t]; dup {
				continue
			}
			slots[t] = Slot{
				Fecha:          fecha,
				Hora:           t,
				Minutes:        minutes,
				EspecialidadID: especialidad,
				SucursalID:     sucursal,
			}
		}
	}

	fallback := 0
	for _, e := range regular {
		if e.EspecialidadID != especialidad {
			continue
		}
		if fallback == 0 {
			fallback = e.SlotMinutes
		}
		if e.Weekday == weekday {
			add(e.Start, e.End, e.SlotMinutes, e.SucursalID)
		}
	}

	for _, x := range exceptions {
		if x.Kind != ExtraAvailability || x.EspecialidadID != especialidad {
			continue
		}
		from, to, ok := clip(x.Start, x.End, day)
		if !ok {
			continue
		}
		minutes := x.SlotMinutes
		if minutes <= 0 {
			minutes = fallback
		}
		add(from, to, minutes, x.SucursalID)
	}

	for _, x := range exceptions {
		if x.Kind != Unavailability {
			continue
		}
		from, to, ok := clip(x.Start, x.End, day)
		if !ok {
			continue
		}
		for t := range slots {
			if t >= from && t < to {
				delete(slots, t)
			}
		}
	}

	for _, b := range bookings {
		if b.Fecha == fecha && b.Holds() {
			delete(slots, b.Hora)
		}
	}

	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hora < out[j].Hora })
	return out
}

// clip intersects [start, end) with the calendar day starting at day and
// returns the bounds as minutes of that day. The upper bound may be 24:00.
func clip(start, end, day time.Time) (TimeOfDay, TimeOfDay, bool) {
	next := day.AddDate(0, 0, 1)
	start, end = start.In(day.Location()), end.In(day.Location())
	if !start.Before(next) || !end.After(day) || !end.After(start) {
		return 0, 0, false
	}
	from, to := TimeOfDay(0), TimeOfDay(minutesPerDay)
	if start.After(day) {
		from = TimeOf(start)
	}
	if end.Before(next) {
		to = TimeOf(end)
	}
	return from, to, true
}

// Drift lists the start times where two slot listings for the same day
// disagree. Missing holds what ours offers and theirs does not, Extra the
// reverse. Slots of theirs with a specialty other than especialidad are
// ignored; a zero specialty on their side matches any.
type Drift struct {
	Missing []Slot `json:"missing"`
	Extra   []Slot `json:"extra"`
}

func (d Drift) Empty() bool { return len(d.Missing) == 0 && len(d.Extra) == 0 }

func Compare(especialidad int, ours, theirs []Slot) Drift {
	seen := make(map[TimeOfDay]bool, len(theirs))
	d := Drift{Missing: []Slot{}, Extra: []Slot{}}
	for _, s := range theirs {
		if s.EspecialidadID != 0 && s.EspecialidadID != especialidad {
			continue
		}
		seen[s.Hora] = true
	}
	mine := make(map[TimeOfDay]bool, len(ours))
	for _, s := range ours {
		mine[s.Hora] = true
		if !seen[s.Hora] {
			d.Missing = append(d.Missing, s)
		}
	}
	for _, s := range theirs {
		if s.EspecialidadID != 0 && s.EspecialidadID != especialidad {
			continue
		}
		if !mine[s.Hora] {
			d.Extra = append(d.Extra, s)
			mine[s.Hora] = true
		}
	}
	sort.Slice(d.Extra, func(i, j int) bool { return d.Extra[i].Hora < d.Extra[j].Hora })
	return d
}
