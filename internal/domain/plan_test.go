package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanDurationStd(t *testing.T) {
	assert.Equal(t, time.Hour, PlanDuration{Amount: 1, Unit: DurationUnitHour}.Std())
	assert.Equal(t, 7*24*time.Hour, PlanDuration{Amount: 7, Unit: DurationUnitDay}.Std())
	assert.Zero(t, PlanDuration{Amount: 3, Unit: "fortnight"}.Std())
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	trial, ok := c.Trial()
	require.True(t, ok)
	assert.Equal(t, "trial", trial.Key)
	assert.Equal(t, time.Hour, trial.Duration.Std())

	week, ok := c.Get("7d")
	require.True(t, ok)
	assert.Equal(t, 10.0, week.Price)
	assert.False(t, week.IsTrial)

	assert.Len(t, c.All(), 5)
	assert.Equal(t, "trial", c.All()[0].Key)
}

func TestNewCatalogRejectsBadTables(t *testing.T) {
	day := PlanDuration{Amount: 1, Unit: DurationUnitDay}

	_, err := NewCatalog([]Plan{{Key: "a", Duration: day}, {Key: "a", Duration: day}})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = NewCatalog([]Plan{{Key: "a"}})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = NewCatalog([]Plan{
		{Key: "t1", Duration: day, IsTrial: true},
		{Key: "t2", Duration: day, IsTrial: true},
	})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestCatalogResolve(t *testing.T) {
	c := DefaultCatalog()

	p, ok := c.Resolve("15d")
	require.True(t, ok)
	assert.Equal(t, "15d", p.Key)

	p, ok = c.Resolve("604800")
	require.True(t, ok)
	assert.Equal(t, "7d", p.Key)

	// Пробный тариф не находится по длине окна
	_, ok = c.Resolve("3600")
	assert.False(t, ok)

	_, ok = c.Resolve("-5")
	assert.False(t, ok)
	_, ok = c.Resolve("bogus")
	assert.False(t, ok)
}

func TestEntitlementWindowBoundary(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := Entitlement{ExpiresAt: &exp}

	assert.True(t, e.ActiveAt(exp.Add(-time.Nanosecond)))
	assert.False(t, e.ActiveAt(exp))
	assert.False(t, e.ActiveAt(exp.Add(time.Nanosecond)))
	assert.True(t, e.LapsedAt(exp))

	assert.False(t, Entitlement{}.ActiveAt(exp))
	assert.False(t, Entitlement{}.LapsedAt(exp))
}

func TestNotFoundErrorIs(t *testing.T) {
	err := NewNotFoundError("approval request", "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "abc")

	ext := NewExternalServiceError("twilio", "21422", "not available", 400, ErrAlreadyTaken)
	assert.True(t, errors.Is(ext, ErrAlreadyTaken))
}
