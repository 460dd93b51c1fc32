// Package usage computes cutoff-period allowance usage for the status
// command: period boundaries, per-category caps, and the rendered report.
package usage

import (
	"fmt"
	"strings"
	"time"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"

	"github.com/shopspring/decimal"
)

// Caps are expressed in the ledger's base currency (USD).
var (
	TransportationCap = decimal.NewFromInt(50)
	WellnessCap       = decimal.RequireFromString("16.67")
)

// midpointDay is the last day of the first cutoff.
const midpointDay = 15

// Period is one half-month cutoff window.
type Period struct {
	From  time.Time
	To    time.Time
	First bool
}

// CurrentPeriod returns the cutoff window containing now. The first cutoff
// runs from the 1st through the 15th, the second from the 16th through the
// end of the month.
func CurrentPeriod(now time.Time) Period {
	y, m, _ := now.Date()
	if now.Day() <= midpointDay {
		return Period{
			From:  time.Date(y, m, 1, 0, 0, 0, 0, now.Location()),
			To:    time.Date(y, m, midpointDay, 0, 0, 0, 0, now.Location()),
			First: true,
		}
	}
	return Period{
		From: time.Date(y, m, midpointDay+1, 0, 0, 0, 0, now.Location()),
		// day 0 of the next month: the last day of this one
		To: time.Date(y, m+1, 0, 0, 0, 0, 0, now.Location()),
	}
}

// Label names the period for display, e.g. "1st Cutoff (1st - 15th)".
func (p Period) Label() string {
	if p.First {
		return "1st Cutoff (1st - 15th)"
	}
	return "2nd Cutoff (16th - End)"
}

// CategoryUsage is one category's spend against its cap.
type CategoryUsage struct {
	Used      decimal.Decimal
	Cap       decimal.Decimal
	Remaining decimal.Decimal
	Percent   int
}

func newCategoryUsage(used, limit decimal.Decimal) CategoryUsage {
	remaining := limit.Sub(used)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	percent := 100
	if used.LessThan(limit) {
		percent = int(used.Div(limit).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
	}
	return CategoryUsage{Used: used, Cap: limit, Remaining: remaining, Percent: percent}
}

// Report is the computed status for one user and period.
type Report struct {
	Period         Period
	Transportation CategoryUsage
	Wellness       CategoryUsage
}

// BuildReport folds period totals into a per-category report.
func BuildReport(period Period, totals domain.CategoryTotals) Report {
	return Report{
		Period:         period,
		Transportation: newCategoryUsage(totals.Transportation, TransportationCap),
		Wellness:       newCategoryUsage(totals.Wellness, WellnessCap),
	}
}

// ProgressBar renders a ten-segment bar, e.g. "███░░░░░░░" for 30%.
func ProgressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := (percent + 5) / 10
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}

func (u CategoryUsage) render(title string) string {
	return fmt.Sprintf("*%s*\n%s %d%%\n\nUsed: *$%s* / $%s\nRemaining: *$%s*",
		title, ProgressBar(u.Percent), u.Percent,
		u.Used.StringFixed(2), u.Cap.StringFixed(2), u.Remaining.StringFixed(2))
}

// RenderTransportation and RenderWellness produce the mrkdwn section bodies
// for the status reply.
func (r Report) RenderTransportation() string { return r.Transportation.render("Transportation") }
func (r Report) RenderWellness() string       { return r.Wellness.render("Health & Wellness") }

// Header is the context line under the report title.
func (r Report) Header(now time.Time) string {
	return fmt.Sprintf("*%s* • %s", r.Period.Label(), now.Format("January 2006"))
}
