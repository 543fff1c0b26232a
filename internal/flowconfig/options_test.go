package flowconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Empty(t *testing.T) {
	opts, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, Default(), opts)
}

func TestParse_AllLongKeys(t *testing.T) {
	opts, err := Parse("size=18,line=6,active=60,inactive=10,split,frag-enable=false,frag-size=500,frag-timeout=2")
	require.NoError(t, err)

	assert.EqualValues(t, 18, opts.SizeExponent)
	assert.EqualValues(t, 6, opts.LineExponent)
	assert.Equal(t, 60*time.Second, opts.Active)
	assert.Equal(t, 10*time.Second, opts.Inactive)
	assert.True(t, opts.SplitBiflow)
	assert.False(t, opts.FragEnable)
	assert.Equal(t, 500, opts.FragSize)
	assert.Equal(t, 2*time.Second, opts.FragTimeout)
}

func TestParse_ShortKeys(t *testing.T) {
	opts, err := Parse("s=20,l=4,a=300,i=30")
	require.NoError(t, err)
	assert.EqualValues(t, 20, opts.SizeExponent)
	assert.EqualValues(t, 4, opts.LineExponent)
}

func TestParse_UnknownOption(t *testing.T) {
	_, err := Parse("bogus=1")
	assert.Error(t, err)
}

func TestParse_SizeExponentOutOfRange(t *testing.T) {
	_, err := Parse("size=31")
	assert.Error(t, err)

	_, err = Parse("size=3")
	assert.Error(t, err)
}

func TestParse_LineExceedsSizeRejected(t *testing.T) {
	_, err := Parse("size=10,line=20")
	assert.Error(t, err)
}

func TestParse_FragSizeMustBePositive(t *testing.T) {
	_, err := Parse("frag-size=0")
	assert.Error(t, err)

	_, err = Parse("frag-size=-1")
	assert.Error(t, err)
}

func TestParse_WhitespaceTolerant(t *testing.T) {
	opts, err := Parse(" size = 18 , line = 6 ")
	require.NoError(t, err)
	assert.EqualValues(t, 18, opts.SizeExponent)
	assert.EqualValues(t, 6, opts.LineExponent)
}

func TestCacheConfig_RoundTrip(t *testing.T) {
	opts, err := Parse("size=16,line=4,frag-enable=true,frag-size=100,frag-timeout=5")
	require.NoError(t, err)

	cc := opts.CacheConfig()
	assert.EqualValues(t, 16, cc.SizeExponent)
	assert.EqualValues(t, 4, cc.LineExponent)
	assert.True(t, cc.FragCache)
	assert.Equal(t, 100, cc.FragSize)
	assert.Equal(t, 5*time.Second, cc.FragTimeout)
}
