package sqlbase

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDialect_Rebind(t *testing.T) {
	numbered := Dialect{NumberedParams: true}
	plain := Dialect{}

	query := "UPDATE automations SET running_until = ? WHERE id = ? AND next_run = ?"

	assert.Equal(t, "UPDATE automations SET running_until = $1 WHERE id = $2 AND next_run = $3", numbered.Rebind(query))
	assert.Equal(t, query, plain.Rebind(query))
}

func TestDialect_Time(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 5, 6, 7000, time.FixedZone("x", 3600))

	text := Dialect{TextTimestamps: true}
	assert.Equal(t, "2024-03-04 08:05:06.000007000", text.Time(at))

	native := Dialect{}
	assert.Equal(t, at.UTC(), native.Time(at))

	assert.Nil(t, text.NullTime(nil))
	assert.Equal(t, "2024-03-04 08:05:06.000007000", text.NullTime(&at))
}

func TestDialect_LocksAndUniqueViolation(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", Dialect{RowLocks: true}.lockSuffix())
	assert.Empty(t, Dialect{}.lockSuffix())

	assert.False(t, Dialect{}.uniqueViolation(errors.New("x")))

	d := Dialect{IsUniqueViolation: func(err error) bool { return err.Error() == "dup" }}
	assert.True(t, d.uniqueViolation(errors.New("dup")))
}
