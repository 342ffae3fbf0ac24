// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseHelpers(t *testing.T) {
	t.Setenv("OPENDUB_TEST_STR", "value")
	t.Setenv("OPENDUB_TEST_EMPTY", "")
	t.Setenv("OPENDUB_TEST_INT", "42")
	t.Setenv("OPENDUB_TEST_BAD_INT", "4x2")
	t.Setenv("OPENDUB_TEST_DUR", "1500ms")
	t.Setenv("OPENDUB_TEST_BOOL", "YES")
	t.Setenv("OPENDUB_TEST_FLOAT", "0.25")
	t.Setenv("OPENDUB_TEST_LIST", "a,,b ")

	assert.Equal(t, "value", ParseString("OPENDUB_TEST_STR", "d"))
	assert.Equal(t, "d", ParseString("OPENDUB_TEST_EMPTY", "d"))
	assert.Equal(t, "d", ParseString("OPENDUB_TEST_UNSET", "d"))
	assert.Equal(t, 42, ParseInt("OPENDUB_TEST_INT", 1))
	assert.Equal(t, 1, ParseInt("OPENDUB_TEST_BAD_INT", 1))
	assert.Equal(t, 1500*time.Millisecond, ParseDuration("OPENDUB_TEST_DUR", time.Second))
	assert.True(t, ParseBool("OPENDUB_TEST_BOOL", false))
	assert.Equal(t, 0.25, ParseFloat("OPENDUB_TEST_FLOAT", 1))
	assert.Equal(t, []string{"a", "b"}, ParseList("OPENDUB_TEST_LIST", nil))
}

func TestParseBool_Invalid(t *testing.T) {
	t.Setenv("OPENDUB_TEST_BOOL", "maybe")
	assert.True(t, ParseBool("OPENDUB_TEST_BOOL", true))
}
