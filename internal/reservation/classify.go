package reservation

// Classification splits decoded events for the reservation dashboard
type Classification struct {
	// HardReservations are exclusive holds on named machines
	HardReservations []Event `json:"hard_reservations"`
	// Announcements are tikgpuX notices that a user may exceed the default quota
	Announcements []Event `json:"announcements"`
}

// Classify partitions events by IsWildcard, keeping input order within each group
func Classify(events []Event) Classification {
	c := Classification{
		HardReservations: []Event{},
		Announcements:    []Event{},
	}
	for _, e := range events {
		if e.IsWildcard {
			c.Announcements = append(c.Announcements, e)
		} else {
			c.HardReservations = append(c.HardReservations, e)
		}
	}
	return c
}

// ReservedBy returns the events owned by username
func ReservedBy(events []Event, username string) []Event {
	var owned []Event
	for _, e := range events {
		if e.Username == username {
			owned = append(owned, e)
		}
	}
	return owned
}
