package userstr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBool(t *testing.T) {
	cases := []struct {
		in   any
		want *bool
	}{
		{UserStr(""), nil},
		{UserStr("auto"), nil},
		{UserStr("true"), ptr(true)},
		{UserStr("YES"), ptr(true)},
		{UserStr("on"), ptr(true)},
		{UserStr("1"), ptr(true)},
		{UserStr("n"), ptr(false)},
		{UserStr("off"), ptr(false)},
		{true, ptr(true)},
		{nil, nil},
	}
	for _, c := range cases {
		got, err := ToBool(c.in)
		require.NoError(t, err)
		if c.want == nil {
			assert.Nil(t, got)
		} else {
			require.NotNil(t, got)
			assert.Equal(t, *c.want, *got)
		}
	}
}

func TestToBoolInvalid(t *testing.T) {
	_, err := ToBool(UserStr("maybe"))
	assert.Error(t, err)
}

func TestToInt(t *testing.T) {
	v, err := ToInt(UserStr("0x80000"))
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 0x80000, *v)

	v, err = ToInt(UserStr("42"))
	require.NoError(t, err)
	assert.Equal(t, 42, *v)

	v, err = ToInt(UserStr(""))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestToFloat(t *testing.T) {
	v, err := ToFloat(UserStr("1.5"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, *v)
}

func TestToList(t *testing.T) {
	v, err := ToList(UserStr("a,b, c"), ",")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, []string{"a", "b", "c"}, *v)

	v, err = ToList(UserStr("single"), ",")
	require.NoError(t, err)
	assert.Equal(t, []string{"single"}, *v)
}

func ptr[T any](v T) *T { return &v }
