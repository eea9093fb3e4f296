package authz

import (
	"time"
)

// ACLResolver applies explicit access control entries over a role-derived verdict
type ACLResolver struct{}

// Applies reports whether the entry names subject on one of its axes
func (ACLResolver) Applies(e AccessControlEntry, subject *Subject) bool {
	axis, id := e.Principal()
	switch axis {
	case AxisUser:
		return id == subject.User.ID
	case AxisRole:
		return subject.HasRole(id)
	case AxisDepartment:
		return subject.User.DepartmentID.Valid && subject.User.DepartmentID.UUID == id
	case AxisProject:
		return subject.InProject(id)
	}
	return false
}

// Resolve returns the final verdict. Any matching deny wins, then any
// matching allow, then the tentative role-derived verdict. Account lock and
// classification denials are never changed. An expired allow entry that
// would otherwise have matched turns a role-derived denial into Expired.
func (r ACLResolver) Resolve(subject *Subject, action Action, res *ResourceMeta, tentative Verdict, aces []AccessControlEntry, now time.Time) (Verdict, error) {
	final := tentative
	final.Trace = append([]ContributingEntry(nil), tentative.Trace...)

	if tentative.Reason == ReasonAccountLocked || tentative.Reason == ReasonClassificationViolation {
		return final, nil
	}

	var (
		denies, allows []AccessControlEntry
		expiredAllow   *AccessControlEntry
	)
	for i := range aces {
		e := aces[i]
		if !e.IsActive || e.Resource != res.Ref {
			continue
		}
		if err := e.Validate(); err != nil {
			final.deny(ReasonConfigurationError)
			final.record(aceEntry(e, false, err.Error()))
			return final, err
		}
		if !r.Applies(e, subject) || !e.Covers(action) {
			continue
		}
		if !EvaluateAll(e.Conditions, now, res) {
			final.record(aceEntry(e, false, "conditions not met"))
			continue
		}
		if !e.Effective(now) {
			if e.Effect == EffectAllow && expiredAllow == nil {
				expiredAllow = &aces[i]
			}
			continue
		}
		if e.Effect == EffectDeny {
			denies = append(denies, e)
		} else {
			allows = append(allows, e)
		}
	}

	switch {
	case len(denies) > 0:
		for _, e := range denies {
			final.record(aceEntry(e, true, "explicit deny"))
		}
		final.deny(ReasonACLDenied)
	case len(allows) > 0:
		for _, e := range allows {
			final.record(aceEntry(e, true, "explicit allow"))
		}
		if !final.Allowed {
			final.allow(ReasonACLGranted)
		}
	case expiredAllow != nil && !final.Allowed:
		final.record(aceEntry(*expiredAllow, false, "expired allow"))
		final.deny(ReasonExpired)
	}

	return final, nil
}
