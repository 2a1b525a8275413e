package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mappingResult struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

func TestParseJSONResponsePlain(t *testing.T) {
	out, err := ParseJSONResponse[mappingResult](`{"selector": "#email", "value": "a@b.com"}`)
	require.NoError(t, err)
	assert.Equal(t, "#email", out.Selector)
	assert.Equal(t, "a@b.com", out.Value)
}

func TestParseJSONResponseMarkdownFenced(t *testing.T) {
	response := "```json\n{\"selector\": \"#phone\", \"value\": \"555\"}\n```"
	out, err := ParseJSONResponse[mappingResult](response)
	require.NoError(t, err)
	assert.Equal(t, "#phone", out.Selector)
}

func TestParseJSONResponseFencedWithoutLanguageTag(t *testing.T) {
	response := "```\n{\"selector\": \"#x\", \"value\": \"y\"}\n```"
	out, err := ParseJSONResponse[mappingResult](response)
	require.NoError(t, err)
	assert.Equal(t, "#x", out.Selector)
}

func TestParseJSONResponseConversationalWrapper(t *testing.T) {
	response := `Sure, here is the mapping you asked for: {"selector": "#city", "value": "Denver"} Let me know if you need more.`
	out, err := ParseJSONResponse[mappingResult](response)
	require.NoError(t, err)
	assert.Equal(t, "Denver", out.Value)
}

func TestParseJSONResponseArray(t *testing.T) {
	response := "```json\n[{\"selector\": \"#a\", \"value\": \"1\"}, {\"selector\": \"#b\", \"value\": \"2\"}]\n```"
	out, err := ParseJSONResponse[[]mappingResult](response)
	require.NoError(t, err)
	require.Len(t, *out, 2)
	assert.Equal(t, "#b", (*out)[1].Selector)
}

func TestParseJSONResponseGarbage(t *testing.T) {
	_, err := ParseJSONResponse[mappingResult]("I could not produce a mapping.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 10))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
}
