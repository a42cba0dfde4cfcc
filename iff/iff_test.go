package iff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitdata/serviceinfo/model"
)

func TestDSNDefaults(t *testing.T) {
	cfg := DBConfig{User: "iff", Password: "secret", Database: "timetable"}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "iff:secret@")
	assert.Contains(t, dsn, "tcp(localhost:3306)")
	assert.Contains(t, dsn, "/timetable")

	cfg.Host = "db.example.com"
	cfg.Port = 3307
	assert.Contains(t, cfg.DSN(), "tcp(db.example.com:3307)")
}

func TestParseDayOffset(t *testing.T) {
	offset, err := parseDayOffset("13:37:00")
	require.NoError(t, err)
	assert.Equal(t, 13*time.Hour+37*time.Minute, offset)

	// Post-midnight stops exceed 24 hours.
	offset, err = parseDayOffset("26:05:30")
	require.NoError(t, err)
	assert.Equal(t, 26*time.Hour+5*time.Minute+30*time.Second, offset)

	_, err = parseDayOffset("26:05")
	assert.Error(t, err)
	_, err = parseDayOffset("x:y:z")
	assert.Error(t, err)
}

func TestAttributeProcessing(t *testing.T) {
	assert.Equal(t, model.AttrBoardingOnly, attributeProcessing(1))
	assert.Equal(t, model.AttrUnboardingOnly, attributeProcessing(2))
	assert.Equal(t, model.AttrOther, attributeProcessing(0))
	assert.Equal(t, model.AttrOther, attributeProcessing(9))
}
