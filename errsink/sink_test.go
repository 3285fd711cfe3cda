package errsink_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanaya/osu-elastic-indexer/errsink"
)

func TestReportWithoutDSNDoesNotBlock(t *testing.T) {
	s, err := errsink.New("")
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Report(errors.New("boom"), map[string]interface{}{"i": i})
	}
	assert.Equal(t, int64(0), s.Dropped())
}

func TestReportNilIsNoop(t *testing.T) {
	s, err := errsink.New("")
	require.NoError(t, err)
	defer s.Close()

	s.Report(nil, nil)
	assert.Equal(t, int64(0), s.Dropped())
}

func TestOnReportFiresForEachQueuedReport(t *testing.T) {
	s, err := errsink.New("")
	require.NoError(t, err)
	defer s.Close()

	got := make(chan string, 1)
	s.OnReport = func(err error, fields map[string]interface{}) { got <- err.Error() }

	s.Report(errors.New("boom"), nil)

	select {
	case msg := <-got:
		assert.Equal(t, "boom", msg)
	case <-time.After(time.Second):
		t.Fatal("OnReport was never called")
	}
}

func TestReportDoesNotBlockWhenFull(t *testing.T) {
	s, err := errsink.New("")
	require.NoError(t, err)

	// The background consumer drains concurrently, so flood well past the
	// buffer depth before asserting; the exact dropped count isn't
	// deterministic, only that overflow is possible without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			s.Report(errors.New("boom"), nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Report blocked under sustained load")
	}
	s.Close()
}
