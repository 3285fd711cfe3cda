package x_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanaya/osu-elastic-indexer/x"
)

func TestWrapPreservesCause(t *testing.T) {
	wrapped := x.Wrapf(x.ErrIndexClosed, "abandoning run for %s", "scores_osu_20260101000000")
	assert.Equal(t, x.ErrIndexClosed, x.Cause(wrapped))
	assert.Contains(t, wrapped.Error(), "scores_osu_20260101000000")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, x.Wrap(nil, "no error here"))
}
