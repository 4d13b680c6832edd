package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{
		"target_path=/dev/sda1",
		"timeout=30",
		"deep_scan=true",
		`tags=["usb","imaging"]`,
	})
	require.NoError(t, err)

	assert.Equal(t, "/dev/sda1", params["target_path"])
	assert.Equal(t, float64(30), params["timeout"])
	assert.Equal(t, true, params["deep_scan"])
	assert.Equal(t, []any{"usb", "imaging"}, params["tags"])
}

func TestParseParamsEmpty(t *testing.T) {
	params, err := parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestParseParamsMalformed(t *testing.T) {
	_, err := parseParams([]string{"no-equals"})
	assert.Error(t, err)

	_, err = parseParams([]string{"=value"})
	assert.Error(t, err)
}
