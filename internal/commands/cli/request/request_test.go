package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseForm(t *testing.T) {
	values, err := parseForm([]string{"a=1", "a=2", "b=x%20y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, values["a"])
	assert.Equal(t, "x y", values.Get("b"))

	_, err = parseForm([]string{"bad=%zz"})
	require.Error(t, err)
}
