package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	timeutils "github.com/dba-platform/rds-slowquery-monitor/src/time-utils"
)

func TestCollectionWindowParsesExplicitRange(t *testing.T) {
	start, end, err := collectionWindow([]string{"2024-08-01", "2024-08-04"})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 8, 4, 0, 0, 0, 0, time.UTC), end)
}

func TestCollectionWindowDefaultsToYesterday(t *testing.T) {
	before := timeutils.DayStartUTC(timeutils.NowUTC())
	start, end, err := collectionWindow(nil)
	after := timeutils.DayStartUTC(timeutils.NowUTC())
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.True(t, end.Equal(before) || end.Equal(after))
}

func TestCollectionWindowRejectsBadInput(t *testing.T) {
	_, _, err := collectionWindow([]string{"2024-08-01"})
	assert.Error(t, err)

	_, _, err = collectionWindow([]string{"not-a-date", "2024-08-04"})
	assert.Error(t, err)

	_, _, err = collectionWindow([]string{"2024-08-04", "2024-08-01"})
	assert.Error(t, err)
}
