package scheduling

// LifecycleEvent names a role-guarded transition of an appointment.
type LifecycleEvent string

const (
	EventConfirm  LifecycleEvent = "confirm"
	EventReject   LifecycleEvent = "reject"
	EventCancel   LifecycleEvent = "cancel"
	EventComplete LifecycleEvent = "complete"
)

type transitionRule struct {
	from  []AppointmentStatus
	roles []Role
	to    AppointmentStatus
}

// nonTerminal lists statuses a cancel or reschedule may start from.
var nonTerminal = []AppointmentStatus{StatusScheduled, StatusConfirmed}

var transitions = map[LifecycleEvent]transitionRule{
	EventConfirm: {
		from:  []AppointmentStatus{StatusScheduled, StatusConfirmed},
		roles: []Role{RoleProvider, RoleAdmin},
		to:    StatusConfirmed,
	},
	EventReject: {
		from:  []AppointmentStatus{StatusScheduled},
		roles: []Role{RoleProvider, RoleAdmin},
		to:    StatusRejected,
	},
	EventCancel: {
		from:  nonTerminal,
		roles: []Role{RolePatient, RoleProvider, RoleAdmin},
		to:    StatusCancelled,
	},
	EventComplete: {
		from:  []AppointmentStatus{StatusConfirmed},
		roles: []Role{RoleProvider, RoleAdmin},
		to:    StatusCompleted,
	},
}

// patientRescheduleLimit caps patient-initiated reschedules per
// appointment. Providers and admins are not limited.
const patientRescheduleLimit = 1

func roleAllowed(rule transitionRule, r Role) bool {
	for _, allowed := range rule.roles {
		if allowed == r {
			return true
		}
	}
	return false
}

func statusIn(s AppointmentStatus, set []AppointmentStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
