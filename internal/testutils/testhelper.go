package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWait bounds how long helpers wait for an asynchronous outcome.
const DefaultWait = 2 * time.Second

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

func CreatePeripheral(id string) *PeripheralBuilder {
	return NewPeripheralBuilder().WithID(id)
}

func CreatePeripheralFromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(jsonStrFmt, args...)
}

// Await receives one value from ch or fails the test after DefaultWait.
func Await[T any](t testing.TB, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(DefaultWait):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// AssertNothing fails the test if ch yields a value within d.
func AssertNothing[T any](t testing.TB, ch <-chan T, d time.Duration, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Errorf("unexpected %s: %v", what, v)
	case <-time.After(d):
	}
}
