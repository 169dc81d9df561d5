package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetenvFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("RECIST_TEST_UNSET")
	assert.Equal(t, "fallback", getenv("RECIST_TEST_UNSET", "fallback"))
}

func TestGetDurationParsesValidValue(t *testing.T) {
	t.Setenv("RECIST_TEST_DURATION", "45s")
	assert.Equal(t, 45*time.Second, getDuration("RECIST_TEST_DURATION", time.Minute))
}

func TestGetDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("RECIST_TEST_DURATION_BAD", "not-a-duration")
	assert.Equal(t, time.Minute, getDuration("RECIST_TEST_DURATION_BAD", time.Minute))
}

func TestGetStringSliceSplitsTrimsAndDropsEmpty(t *testing.T) {
	t.Setenv("RECIST_TEST_NS", "prod, staging ,, dev")
	got := getStringSlice("RECIST_TEST_NS", []string{"default"})
	assert.Equal(t, []string{"prod", "staging", "dev"}, got)
}

func TestGetStringSliceFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("RECIST_TEST_NS_UNSET")
	got := getStringSlice("RECIST_TEST_NS_UNSET", []string{"default"})
	assert.Equal(t, []string{"default"}, got)
}

func TestGetStringSliceFallsBackWhenOnlyEmptyEntries(t *testing.T) {
	t.Setenv("RECIST_TEST_NS_EMPTY", " , , ")
	got := getStringSlice("RECIST_TEST_NS_EMPTY", []string{"default"})
	assert.Equal(t, []string{"default"}, got)
}

func TestGetFloatParsesValidValue(t *testing.T) {
	t.Setenv("RECIST_TEST_FLOAT", "0.75")
	assert.Equal(t, 0.75, getFloat("RECIST_TEST_FLOAT", 0.5))
}

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("RECIST_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 3, getInt("RECIST_TEST_INT_BAD", 3))
}
