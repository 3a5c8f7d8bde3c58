package job

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"jobsched/internal/shared"
)

// Vars is the input of RenderCommand.
type Vars struct {
	JobName string
	RunID   string
	Now     time.Time
}

var (
	placeholderRe = regexp.MustCompile(`%\(([^()]*)\)s`)
	variableRe    = regexp.MustCompile(`^([a-z]+)(?:([+-])([0-9]+))?$`)
)

// unixOrdinal is the proleptic Gregorian ordinal of 1970-01-01 (0001-01-01 is 1).
const unixOrdinal = 719163

// RenderCommand substitutes %(var)s placeholders in tmpl.
//
// Supported variables:
//   - name, jobname: the job name
//   - runid: the run identifier
//   - shortdate[+-N]: YYYY-MM-DD of now, offset by N days
//   - daynumber[+-N]: ordinal day number of now, offset by N days
//   - unixtime[+-N]: epoch seconds of now, offset by N seconds
//
// Unknown placeholders are left as they are; use ValidateTemplate to reject them up front.
func RenderCommand(tmpl string, v Vars) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		inner := placeholderRe.FindStringSubmatch(m)[1]
		if s, ok := resolve(inner, v); ok {
			return s
		}
		return m
	})
}

// ValidateTemplate returns a validation error listing every placeholder
// RenderCommand would not be able to substitute.
func ValidateTemplate(tmpl string) error {
	var unknown []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := resolve(m[1], Vars{}); !ok {
			unknown = append(unknown, m[0])
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown template placeholders: %s", shared.ErrValidation, strings.Join(unknown, ", "))
	}
	return nil
}

func resolve(expr string, v Vars) (string, bool) {
	parts := variableRe.FindStringSubmatch(expr)
	if parts == nil {
		return "", false
	}
	name, sign, digits := parts[1], parts[2], parts[3]

	offset := 0
	if digits != "" {
		n, err := strconv.Atoi(digits)
		if err != nil {
			return "", false
		}
		offset = n
		if sign == "-" {
			offset = -n
		}
	}

	switch name {
	case "name", "jobname":
		if digits != "" {
			return "", false
		}
		return v.JobName, true
	case "runid":
		if digits != "" {
			return "", false
		}
		return v.RunID, true
	case "shortdate":
		return v.Now.AddDate(0, 0, offset).Format(time.DateOnly), true
	case "daynumber":
		return strconv.Itoa(DayNumber(v.Now) + offset), true
	case "unixtime":
		return strconv.FormatInt(v.Now.Unix()+int64(offset), 10), true
	}
	return "", false
}

// DayNumber returns the proleptic Gregorian ordinal of t's calendar date in
// t's location, where 0001-01-01 is day 1.
func DayNumber(t time.Time) int {
	y, m, d := t.Date()
	days := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
	return unixOrdinal + int(days)
}
