package scheduling

import (
	"sort"
	"time"
)

// deriveSlots computes the ordered, deduplicated bookable start times for
// one (practitioner, day) from its declared windows and the starts already
// claimed by active appointments.
//
// A candidate start t is derivable when [t, t+length) fits entirely inside
// a window. Candidates are stepped at the slot length from each window's
// start. The result is sorted ascending by start and deduplicated by start
// (first occurrence wins), so overlapping windows cannot produce duplicate
// entries even though window declaration rejects overlaps upstream.
func deriveSlots(windows []AvailabilityWindow, booked map[TimeOfDay]bool, length time.Duration) []Slot {
	step := TimeOfDay(length / time.Minute)
	if step <= 0 {
		return nil
	}

	var slots []Slot
	for _, w := range windows {
		for t := w.Start; t+step <= w.End; t += step {
			if booked[t] {
				continue
			}
			slots = append(slots, Slot{
				PractitionerID: w.PractitionerID,
				Day:            w.Day,
				Start:          t,
				End:            t + step,
			})
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })

	deduped := slots[:0]
	for i, s := range slots {
		if i > 0 && s.Start == slots[i-1].Start {
			continue
		}
		deduped = append(deduped, s)
	}
	return deduped
}

// bookedStarts collects the slot starts held by appointments that still
// occupy their slot (Scheduled or Completed). The optional exclude ID lets
// a reschedule free the slot of the appointment being moved.
func bookedStarts(appointments []Appointment, exclude *Appointment) map[TimeOfDay]bool {
	booked := make(map[TimeOfDay]bool, len(appointments))
	for _, a := range appointments {
		if exclude != nil && a.ID == exclude.ID {
			continue
		}
		if a.Status == StatusCancelled {
			continue
		}
		booked[a.SlotStart] = true
	}
	return booked
}

func slotAvailable(slots []Slot, start TimeOfDay) bool {
	for _, s := range slots {
		if s.Start == start {
			return true
		}
	}
	return false
}
