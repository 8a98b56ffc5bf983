package reembed

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Increments(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Increment(25)
	tracker.Increment(25)
	tracker.Increment(50)

	assert.Equal(t, 100, tracker.Current())
	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
	assert.Contains(t, buf.String(), "100/100")
	assert.Contains(t, buf.String(), "100.0%")
}

func TestProgressTracker_Finish(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Update(75)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "100/100", "finish jumps to total")
	assert.True(t, strings.HasSuffix(output, "\n"))
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 0, 10)

	tracker.Start()
	tracker.Finish()

	assert.Contains(t, buf.String(), "0/0 (0.0%)")
}

func TestProgressTracker_CapsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Start()
	tracker.Increment(150)
	assert.Equal(t, 100, tracker.Current())

	tracker.Update(400)
	assert.Equal(t, 100, tracker.Current())
	assert.NotContains(t, buf.String(), "150/100")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 100, 10)

	tracker.Increment(10)
	tracker.Update(50)
	tracker.Finish()

	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_ReportInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 1000, 100)
	tracker.Start()

	tracker.Update(50)
	assert.Empty(t, buf.String(), "under interval")

	tracker.Update(100)
	assert.NotEmpty(t, buf.String(), "at interval")

	buf.Reset()
	tracker.Update(150)
	assert.Empty(t, buf.String(), "interval counts from the last report")

	tracker.Update(250)
	assert.NotEmpty(t, buf.String())
}

func TestProgressTracker_Label(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, 10, 5).WithLabel("chunks")

	tracker.Start()
	tracker.Update(5)

	last := buf.String()[strings.LastIndex(buf.String(), "\r")+1:]
	assert.True(t, strings.HasPrefix(last, "Progress: 5/10 (50.0%) - "), last)
	assert.True(t, strings.HasSuffix(last, " chunks/s"), last)
}

func TestProgressTracker_Defaults(t *testing.T) {
	tracker := NewProgressTracker(nil, 3, 0)

	tracker.Start()
	tracker.Increment(1)
	tracker.Finish()
	assert.Equal(t, 3, tracker.Current())
}
