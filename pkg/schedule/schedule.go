// Package schedule wraps the 5-field cron grammar used by backup jobs.
//
// Day-of-month and day-of-week follow classic cron: when both fields are
// restricted a day matches if EITHER field matches, when one of them is `*`
// only the other one applies.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
)

const (
	KindManual    = "manual"
	KindHourly    = "hourly"
	KindDaily     = "daily"
	KindWeekly    = "weekly"
	KindMonthly   = "monthly"
	KindScheduled = "scheduled"
)

const fieldCount = 5

var (
	ErrFieldCount = errors.New("cron expression must have exactly 5 fields")
	ErrNeverFires = errors.New("cron expression never matches a date")
)

// reference is where Parse looks for a first occurrence. The cron search
// window covers five years, so leap days are still found from here.
var reference = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type Expression struct {
	spec     string
	fields   []string
	schedule cron.Schedule
}

// Parse accepts "minute hour day-of-month month day-of-week" only: no
// seconds field and no @descriptors.
func Parse(expr string) (Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != fieldCount {
		return Expression{}, errors.Wrapf(ErrFieldCount, "got %d", len(fields))
	}

	for _, f := range fields {
		if strings.HasPrefix(f, "@") {
			return Expression{}, errors.Errorf("descriptor %q is not supported", f)
		}
	}

	spec := strings.Join(fields, " ")

	s, err := cron.ParseStandard(spec)
	if err != nil {
		return Expression{}, errors.Wrapf(err, "invalid cron expression %q", expr)
	}

	if s.Next(reference).IsZero() {
		return Expression{}, errors.Wrapf(ErrNeverFires, "%q", expr)
	}

	return Expression{spec: spec, fields: fields, schedule: s}, nil
}

func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

func Valid(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

func (e Expression) String() string {
	return e.spec
}

// Next returns the earliest matching minute strictly after t, in UTC, or the
// zero time when nothing matches within the cron search window.
func (e Expression) Next(t time.Time) time.Time {
	return e.schedule.Next(t.UTC())
}

// Kind derives the artifact kind used in backup file names.
func (e Expression) Kind() string {
	minute, hour, dom, month, dow := e.fields[0], e.fields[1], e.fields[2], e.fields[3], e.fields[4]

	if !isSingle(minute) {
		return KindScheduled
	}

	if !isSingle(hour) {
		return KindHourly
	}

	if month != "*" {
		return KindScheduled
	}

	switch {
	case dom == "*" && dow == "*":
		return KindDaily
	case dom == "*" && isSingle(dow):
		return KindWeekly
	case dom == "*":
		return KindDaily
	case dow == "*" && isSingle(dom):
		return KindMonthly
	}

	return KindScheduled
}

func isSingle(field string) bool {
	_, err := strconv.Atoi(field)
	return err == nil
}
