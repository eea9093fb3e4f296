package authz

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConditionKind identifies a supported condition variant
type ConditionKind string

const (
	ConditionTimeWindow  ConditionKind = "time_window"
	ConditionResourceTag ConditionKind = "resource_tag"
)

// Condition is a constraint attached to a role permission or an ACE.
// Exactly one of the variant fields matching Kind is set.
type Condition struct {
	Kind        ConditionKind `json:"kind" yaml:"kind"`
	TimeWindow  *TimeWindow   `json:"time_window,omitempty" yaml:"time_window,omitempty"`
	ResourceTag *TagMatch     `json:"resource_tag,omitempty" yaml:"resource_tag,omitempty"`
}

// TimeWindow restricts a grant to a daily window in a location.
// A window whose End is before its Start wraps past midnight.
type TimeWindow struct {
	Start    string   `json:"start" yaml:"start"` // HH:MM
	End      string   `json:"end" yaml:"end"`     // HH:MM, exclusive
	Weekdays []string `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	Location string   `json:"location,omitempty" yaml:"location,omitempty"`
}

// TagMatch requires a resource tag to hold one of the listed values
type TagMatch struct {
	Key    string   `json:"key" yaml:"key"`
	Values []string `json:"values" yaml:"values"`
}

// Validate checks that the condition is well formed
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionTimeWindow:
		if c.TimeWindow == nil || c.ResourceTag != nil {
			return fmt.Errorf("time_window condition must carry only a time window")
		}
		return c.TimeWindow.validate()
	case ConditionResourceTag:
		if c.ResourceTag == nil || c.TimeWindow != nil {
			return fmt.Errorf("resource_tag condition must carry only a tag match")
		}
		if strings.TrimSpace(c.ResourceTag.Key) == "" {
			return fmt.Errorf("resource_tag condition has empty key")
		}
		if len(c.ResourceTag.Values) == 0 {
			return fmt.Errorf("resource_tag condition %q has no values", c.ResourceTag.Key)
		}
		return nil
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

// Evaluate reports whether the condition holds at now for res.
// Malformed conditions never hold.
func (c Condition) Evaluate(now time.Time, res *ResourceMeta) bool {
	switch c.Kind {
	case ConditionTimeWindow:
		if c.TimeWindow == nil || c.ResourceTag != nil {
			return false
		}
		return c.TimeWindow.contains(now)
	case ConditionResourceTag:
		if c.ResourceTag == nil || c.TimeWindow != nil || res == nil {
			return false
		}
		v, ok := res.Tags[c.ResourceTag.Key]
		if !ok {
			return false
		}
		for _, want := range c.ResourceTag.Values {
			if v == want {
				return true
			}
		}
		return false
	}
	return false
}

// canonical returns a stable string form used for grant deduplication
func (c Condition) canonical() string {
	switch c.Kind {
	case ConditionTimeWindow:
		if c.TimeWindow == nil {
			return string(c.Kind)
		}
		days := append([]string(nil), c.TimeWindow.Weekdays...)
		for i := range days {
			days[i] = strings.ToLower(days[i])
		}
		sort.Strings(days)
		return fmt.Sprintf("%s(%s-%s@%s;%s)", c.Kind, c.TimeWindow.Start, c.TimeWindow.End,
			c.TimeWindow.Location, strings.Join(days, ","))
	case ConditionResourceTag:
		if c.ResourceTag == nil {
			return string(c.Kind)
		}
		vals := append([]string(nil), c.ResourceTag.Values...)
		sort.Strings(vals)
		return fmt.Sprintf("%s(%s=%s)", c.Kind, c.ResourceTag.Key, strings.Join(vals, "|"))
	}
	return string(c.Kind)
}

// EvaluateAll reports whether every condition holds. An empty set always holds.
func EvaluateAll(conds []Condition, now time.Time, res *ResourceMeta) bool {
	for _, c := range conds {
		if !c.Evaluate(now, res) {
			return false
		}
	}
	return true
}

// ConditionKey returns a canonical, order-independent key for a condition set
func ConditionKey(conds []Condition) string {
	if len(conds) == 0 {
		return ""
	}
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.canonical()
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// ValidateConditions reports the first invalid condition as a
// ConfigurationError attributed to owner
func ValidateConditions(owner uuid.UUID, conds []Condition) error {
	for _, c := range conds {
		if err := c.Validate(); err != nil {
			return &ConfigurationError{Kind: InvalidCondition, ID: owner, Detail: err.Error()}
		}
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	d, ok := weekdayNames[s[:3]]
	return d, ok
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w *TimeWindow) validate() error {
	if _, err := parseClock(w.Start); err != nil {
		return err
	}
	if _, err := parseClock(w.End); err != nil {
		return err
	}
	for _, d := range w.Weekdays {
		if _, ok := parseWeekday(d); !ok {
			return fmt.Errorf("invalid weekday %q", d)
		}
	}
	if w.Location != "" {
		if _, err := time.LoadLocation(w.Location); err != nil {
			return fmt.Errorf("invalid location %q: %w", w.Location, err)
		}
	}
	return nil
}

func (w *TimeWindow) contains(now time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	if w.Location != "" {
		loc, err := time.LoadLocation(w.Location)
		if err != nil {
			return false
		}
		now = now.In(loc)
	}

	minute := now.Hour()*60 + now.Minute()
	day := now.Weekday()
	var inside bool
	switch {
	case start == end:
		inside = true
	case start < end:
		inside = minute >= start && minute < end
	default:
		// past midnight the window belongs to the previous day's schedule
		if minute >= start {
			inside = true
		} else if minute < end {
			inside = true
			day = (day + 6) % 7
		}
	}
	if !inside {
		return false
	}
	if len(w.Weekdays) == 0 {
		return true
	}
	for _, d := range w.Weekdays {
		if wd, ok := parseWeekday(d); ok && wd == day {
			return true
		}
	}
	return false
}
