package settings_test

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/nanaya/osu-elastic-indexer/settings"
	"github.com/nanaya/osu-elastic-indexer/x"
)

func contextWith(args ...string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	app := &cli.App{Flags: settings.Flags()}
	for _, f := range settings.Flags() {
		_ = f.Apply(set)
	}
	_ = set.Parse(args)
	return cli.NewContext(app, set, nil)
}

func TestFromContextValidatesSchemaTag(t *testing.T) {
	c := contextWith("--batch-size=100")
	_, err := settings.FromContext(c)
	require.Error(t, err)
	assert.Equal(t, x.ErrMissingSchema, x.Cause(err))
}

func TestFromContextAppliesDefaults(t *testing.T) {
	c := contextWith("--schema=s1")
	s, err := settings.FromContext(c)
	require.NoError(t, err)
	assert.Equal(t, "s1", s.SchemaTag)
	assert.Equal(t, 1000, s.BatchSize)
	assert.Equal(t, 4, s.MaxParallelDispatch)
	assert.Equal(t, int64(2000), s.ReadDelayMs())
}

func TestFromContextResumeFrom(t *testing.T) {
	c := contextWith("--schema=s1", "--resume-from=42")
	s, err := settings.FromContext(c)
	require.NoError(t, err)
	require.NotNil(t, s.ResumeFrom)
	assert.Equal(t, int64(42), *s.ResumeFrom)
}

func TestAlias(t *testing.T) {
	s := settings.Settings{AliasPrefix: "scores"}
	assert.Equal(t, "scores_osu", s.Alias("osu"))
}
