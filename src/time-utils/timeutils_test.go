package timeutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverterDisplaysInZone(t *testing.T) {
	converter, err := NewConverter("Asia/Seoul")
	require.NoError(t, err)

	utc := time.Date(2024, 8, 1, 15, 0, 0, 0, time.UTC)
	display := converter.Display(utc)

	assert.Equal(t, "2024-08-02T00:00:00+09:00", converter.FormatDisplay(utc))
	assert.True(t, display.Equal(utc))
}

func TestNewConverterDefaultsZone(t *testing.T) {
	converter, err := NewConverter("")
	require.NoError(t, err)
	assert.Equal(t, "+09:00", converter.Display(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).Format("-07:00"))
}

func TestNewConverterRejectsUnknownZone(t *testing.T) {
	_, err := NewConverter("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestDayStartUTC(t *testing.T) {
	kst, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 03:00 KST on Aug 2 is still Aug 1 in UTC.
	local := time.Date(2024, 8, 2, 3, 0, 0, 0, kst)
	assert.Equal(t, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), DayStartUTC(local))
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, "2024-08", MonthKey(time.Date(2024, 8, 31, 23, 59, 0, 0, time.UTC)))
}
