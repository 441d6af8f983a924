package a2s

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCharset(t *testing.T) {
	c, err := LookupCharset("")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, "héllo", c.Encode("héllo"))
	assert.Equal(t, "utf-8", c.String())

	_, err = LookupCharset("not-a-charset")
	assert.Error(t, err)
}

func TestCharsetEncode(t *testing.T) {
	c, err := LookupCharset("windows-1251")
	require.NoError(t, err)

	encoded := c.Encode("Привет")
	assert.Equal(t, "\xcf\xf0\xe8\xe2\xe5\xf2", encoded)
	assert.Equal(t, "Привет", c.Decode(encoded))
	assert.Equal(t, "windows-1251", c.String())
}

func TestCharsetReplacesUnsupported(t *testing.T) {
	c, err := LookupCharset("iso-8859-2")
	require.NoError(t, err)

	encoded := c.Encode("a€b")
	assert.Len(t, encoded, 3)
	assert.Equal(t, byte('a'), encoded[0])
	assert.Equal(t, byte('b'), encoded[2])
}
