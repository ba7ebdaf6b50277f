package scheduling

import (
	"strings"
	"time"
)

// Fee rules are matched in declared order against the lower-cased
// appointment type; the first substring hit wins. "urgent specialist
// follow-up" therefore prices as a specialist visit.
type feeRule struct {
	keyword string
	amount  int
}

var feeRules = []feeRule{
	{"specialist", 100},
	{"follow", 30},
	{"urgent", 80},
}

const defaultFee = 50

// FeeForType derives the invoice amount from the appointment type.
func FeeForType(appointmentType string) int {
	t := strings.ToLower(appointmentType)
	for _, rule := range feeRules {
		if strings.Contains(t, rule.keyword) {
			return rule.amount
		}
	}
	return defaultFee
}

// invoiceDueLeadDays is how many days before the appointment the
// invoice falls due.
const invoiceDueLeadDays = 3

// InvoiceDueDate computes the due date for an appointment on slotDate.
func InvoiceDueDate(slotDate time.Time) time.Time {
	return NormalizeDate(slotDate).AddDate(0, 0, -invoiceDueLeadDays)
}
