package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"jobsched/internal/shared"
)

func TestRenderCommand(t *testing.T) {
	vars := Vars{JobName: "Test Job", RunID: "Test Job.4", Now: testStart}

	tests := []struct {
		tmpl string
		want string
	}{
		{"plain command", "plain command"},
		{"%(name)s", "Test Job"},
		{"%(jobname)s/%(runid)s", "Test Job/Test Job.4"},
		{"%(shortdate)s", "2024-03-15"},
		{"%(shortdate+1)s %(shortdate-15)s", "2024-03-16 2024-02-29"},
		{"%(daynumber)s", "738960"},
		{"%(daynumber-1)s %(daynumber+10)s", "738959 738970"},
		{"%(unixtime)s", "1710460800"},
		{"%(unixtime-60)s", "1710460740"},
		{"%(bogus)s stays", "%(bogus)s stays"},
		{"%(name+1)s", "%(name+1)s"},
		{"100%(done", "100%(done"},
	}

	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderCommand(tt.tmpl, vars))
		})
	}
}

func TestRenderCommand_UsesLocalCalendarDate(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	now := time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC).In(loc)

	got := RenderCommand("%(shortdate)s %(daynumber)s", Vars{Now: now})
	assert.Equal(t, "2024-03-16 738961", got)
}

func TestDayNumber(t *testing.T) {
	assert.Equal(t, 1, DayNumber(time.Date(1, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, unixOrdinal, DayNumber(time.Unix(0, 0).UTC()))
	assert.Equal(t, 738960, DayNumber(testStart))
}

func TestValidateTemplate(t *testing.T) {
	assert.NoError(t, ValidateTemplate("backup --day %(daynumber-1)s --id %(runid)s"))
	assert.NoError(t, ValidateTemplate("no placeholders"))

	err := ValidateTemplate("run %(nope)s %(unixtime)s %(runid+2)s")
	assert.True(t, shared.IsValidation(err))
	assert.ErrorContains(t, err, "%(nope)s")
	assert.ErrorContains(t, err, "%(runid+2)s")
}
