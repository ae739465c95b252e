package micloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegionsOrder(t *testing.T) {
	tags := make([]string, 0, len(Regions()))
	for _, r := range Regions() {
		tags = append(tags, r.Tag)
	}
	assert.Equal(t, []string{"cn", "ru", "us", "i2", "tw", "sg", "de"}, tags)
}

func TestRegionSupported(t *testing.T) {
	assert.True(t, RegionSupported("cn"))
	assert.True(t, RegionSupported("i2"))
	assert.False(t, RegionSupported(""))
	assert.False(t, RegionSupported("uk"))
}

func TestAPIBase(t *testing.T) {
	urls := DefaultURLConfig()

	assert.Equal(t, "https://api.io.mi.com/app", urls.apiBase("cn"))
	assert.Equal(t, "https://de.api.io.mi.com/app", urls.apiBase("de"))
	// i2 has no dedicated deployment.
	assert.Equal(t, "https://api.io.mi.com/app", urls.apiBase("i2"))
}

func TestSetRegionIgnoresUnknownTags(t *testing.T) {
	c := New()
	c.SetRegion("de")
	assert.Equal(t, "de", c.Region())

	c.SetRegion("atlantis")
	assert.Equal(t, "de", c.Region())
}
