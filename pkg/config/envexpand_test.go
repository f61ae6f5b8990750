package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv_SubstitutesVariables(t *testing.T) {
	t.Setenv("SP_TEST_ADDR", "example:6379")
	t.Setenv("SP_TEST_DB", "3")

	out := ExpandEnv([]byte("addr: {{.SP_TEST_ADDR}}\ndb: {{.SP_TEST_DB}}"))
	assert.Equal(t, "addr: example:6379\ndb: 3", string(out))
}

func TestExpandEnv_MissingVariableBecomesEmpty(t *testing.T) {
	out := ExpandEnv([]byte("addr: {{.SP_DEFINITELY_NOT_SET_ANYWHERE}}"))
	assert.Equal(t, "addr: ", string(out))
}

func TestExpandEnv_PlainYAMLPassesThrough(t *testing.T) {
	in := "store:\n  addr: localhost:6379\n"
	assert.Equal(t, in, string(ExpandEnv([]byte(in))))
}

func TestExpandEnv_DollarSignsPreserved(t *testing.T) {
	// Routing-rule patterns may contain literal $ anchors; template
	// syntax must leave them alone.
	in := `pattern: "^order%.cancelled$"`
	assert.Equal(t, in, string(ExpandEnv([]byte(in))))
}

func TestExpandEnv_MalformedTemplateReturnsOriginal(t *testing.T) {
	in := "value: {{.Unclosed"
	assert.Equal(t, in, string(ExpandEnv([]byte(in))))
}
