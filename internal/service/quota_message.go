package service

import (
	"github.com/DukeRupert/formwell/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// quotaMessages formats user-facing quota messages with locale-aware number
// grouping ("10,000 submissions"). Printers and casers are created per call
// because cases.Caser is stateful.
type quotaMessages struct {
	tag language.Tag
}

func newQuotaMessages() *quotaMessages {
	return &quotaMessages{tag: language.English}
}

func (m *quotaMessages) planName(name string) string {
	return cases.Title(m.tag).String(name)
}

// verb returns the phrase describing what the action would do.
func (m *quotaMessages) verb(action domain.ActionType) string {
	switch action {
	case domain.ActionCreateForm:
		return "create another form"
	case domain.ActionSubmitForm:
		return "accept another submission"
	case domain.ActionUploadFile:
		return "store this upload"
	default:
		return "complete this request"
	}
}

// exceeded describes a rejected action.
func (m *quotaMessages) exceeded(action domain.ActionType, planName string, current, max int64) string {
	dim, _ := action.Dimension()
	p := message.NewPrinter(m.tag)
	return p.Sprintf(
		"Your %s plan allows %d %s per month and you have used %d. Upgrade your plan to %s.",
		m.planName(planName), max, dim.Unit(), current, m.verb(action),
	)
}

// threshold describes a crossed usage threshold.
func (m *quotaMessages) threshold(event domain.ThresholdEvent) string {
	p := message.NewPrinter(m.tag)
	if event.Threshold >= domain.Threshold100 {
		return p.Sprintf(
			"You have used all %d %s included in your %s plan this month.",
			event.Limit, event.Dimension.Unit(), m.planName(event.PlanName),
		)
	}
	return p.Sprintf(
		"You have used %d of %d %s included in your %s plan this month.",
		event.Usage, event.Limit, event.Dimension.Unit(), m.planName(event.PlanName),
	)
}

// ThresholdMessage returns the notification text for a threshold event.
func ThresholdMessage(event domain.ThresholdEvent) string {
	return newQuotaMessages().threshold(event)
}
