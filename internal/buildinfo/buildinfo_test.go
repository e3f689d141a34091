package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.BuildDate)
	assert.NotEmpty(t, info.GoVersion)
}

func TestGet_LinkerValues(t *testing.T) {
	oldVersion, oldDate := version, buildDate
	t.Cleanup(func() { version, buildDate = oldVersion, oldDate })

	version, buildDate = "1.4.0", "2026-10-01"
	info := Get()
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "2026-10-01", info.BuildDate)
	assert.Equal(t, "imageledger@1.4.0", info.Release())
}
