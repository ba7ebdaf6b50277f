package scheduling

// Slot is one bookable time offer derived from a weekly template.
type Slot struct {
	Time      TimeOfDay `json:"time"`
	Available bool      `json:"available"`
}

// GenerateSlots expands a provider's template for one day-of-week into
// the ordered slot grid, marking slots taken by booked as unavailable.
//
// Capacity is "how many parallel slots of equal size fit in one hour":
// capacity 4 yields 15-minute slots on the hour grid. A capacity that
// does not divide 60 evenly floors the slot length and leaves the
// remainder of each hour unused. Break windows are stored on the
// template but not subtracted here; slots inside a break are still
// emitted.
//
// The function is pure: same template and booked set, same output.
func GenerateSlots(tpl *AvailabilityTemplate, booked map[TimeOfDay]struct{}) []Slot {
	if tpl == nil || !tpl.Active {
		return nil
	}

	slotsPerHour := tpl.CapacityPerHour
	if slotsPerHour < 1 {
		return nil
	}
	minutesPerSlot := 60 / slotsPerHour
	if minutesPerSlot < 1 {
		return nil
	}

	startHour := tpl.StartTime.Hour()
	endHour := tpl.EndTime.Hour()

	var slots []Slot
	for h := startHour; h < endHour; h++ {
		for s := 0; s < slotsPerHour; s++ {
			t := NewTimeOfDay(h, s*minutesPerSlot)
			_, taken := booked[t]
			slots = append(slots, Slot{Time: t, Available: !taken})
		}
	}
	return slots
}
