// Package scheduler owns the daily follow-up run: it evaluates case
// eligibility against per-clinic criteria, computes send times, creates the
// scheduled call and email items, and keeps the audit records linking them
// back to cases.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/pawsitive/followup/internal/domain/caserecord"
	"github.com/pawsitive/followup/internal/domain/schedconfig"
)

// Rejection reason codes. Rejections are recorded as skips, never errors.
const (
	ReasonAlreadyAutoScheduled = "ALREADY_AUTO_SCHEDULED"
	ReasonAlreadyScheduled     = "ALREADY_SCHEDULED"
	ReasonInvalidStatus        = "INVALID_STATUS"
	ReasonExtremeCase          = "EXTREME_CASE"
	ReasonExcludedCaseType     = "EXCLUDED_CASE_TYPE"
	ReasonNoContactInfo        = "NO_CONTACT_INFO"
	ReasonNoDischargeSummary   = "NO_DISCHARGE_SUMMARY"
	ReasonCaseTooOld           = "CASE_TOO_OLD"
	ReasonCaseTooNew           = "CASE_TOO_NEW"
	ReasonActiveItemExists     = "ACTIVE_ITEM_EXISTS"
)

// Categories that mark a case as extreme regardless of the explicit flag.
// Matching is a case-insensitive substring check.
var extremeCategories = []string{
	"euthanasia",
	"euthanized",
	"deceased",
	"end of life",
	"passed away",
}

// Decision is the evaluator's verdict for one case.
type Decision struct {
	Eligible   bool   `json:"eligible"`
	ReasonCode string `json:"reason_code,omitempty"`
	ReasonText string `json:"reason_text,omitempty"`
}

func reject(code, text string) Decision {
	return Decision{Eligible: false, ReasonCode: code, ReasonText: text}
}

// Evaluate decides whether a case may receive automated follow-up. Checks
// run in a fixed order and the first failing one wins. Pure function, no
// I/O; missing optional fields count as absent.
func Evaluate(c *caserecord.Case, crit schedconfig.EligibilityCriteria, now time.Time) Decision {
	crit = crit.Normalized()

	if c.AutoScheduledAt != nil {
		return reject(ReasonAlreadyAutoScheduled,
			fmt.Sprintf("case was auto-scheduled at %s", c.AutoScheduledAt.Format(time.RFC3339)))
	}
	if c.SchedulingSource != nil && *c.SchedulingSource == caserecord.SourceManual {
		return reject(ReasonAlreadyScheduled, "follow-up was scheduled manually")
	}
	if !crit.StatusIncluded(c.Status) {
		return reject(ReasonInvalidStatus, fmt.Sprintf("case status %q is not eligible", c.Status))
	}
	if isExtreme(c) {
		return reject(ReasonExtremeCase, "euthanasia or deceased-patient cases are excluded")
	}
	if c.CaseType != nil && contains(crit.ExcludedCaseTypes, *c.CaseType) {
		return reject(ReasonExcludedCaseType, fmt.Sprintf("case type %q is excluded by clinic criteria", *c.CaseType))
	}
	if *crit.RequireContactInfo && !c.HasValidPhone() && !c.HasValidEmail() {
		return reject(ReasonNoContactInfo, "no valid owner phone or email on file")
	}
	if *crit.RequireDischargeSummary && !c.HasDischargeSummary {
		return reject(ReasonNoDischargeSummary, "case has no discharge summary")
	}

	age := now.Sub(c.CreatedAt)
	if age > time.Duration(crit.MaxCaseAgeDays)*24*time.Hour {
		return reject(ReasonCaseTooOld,
			fmt.Sprintf("case is older than %d days", crit.MaxCaseAgeDays))
	}
	if crit.MinCaseAgeHours > 0 && age < time.Duration(crit.MinCaseAgeHours)*time.Hour {
		return reject(ReasonCaseTooNew,
			fmt.Sprintf("case is younger than %d hours", crit.MinCaseAgeHours))
	}

	return Decision{Eligible: true}
}

func isExtreme(c *caserecord.Case) bool {
	if c.IsExtreme {
		return true
	}
	if c.Category == nil {
		return false
	}
	cat := strings.ToLower(*c.Category)
	for _, s := range extremeCategories {
		if strings.Contains(cat, s) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
