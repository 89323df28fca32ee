package substitution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_SubstitutesKnownKeys(t *testing.T) {
	out, err := Expand("fetch-data --date=${date} --recipient=${recipient}", `{"date":"2026-07-29","recipient":"ops@example.com"}`)

	require.NoError(t, err)
	assert.Equal(t, "fetch-data --date=2026-07-29 --recipient=ops@example.com", out)
}

func TestExpand_LeavesUnknownKeysAsLiteral(t *testing.T) {
	out, err := Expand("build-report --input=${missing}", `{"date":"2026-07-29"}`)

	require.NoError(t, err)
	assert.Equal(t, "build-report --input=${missing}", out)
}

func TestExpand_EmptyInputDataLeavesAllPlaceholders(t *testing.T) {
	out, err := Expand("ship --to=${recipient}", "")

	require.NoError(t, err)
	assert.Equal(t, "ship --to=${recipient}", out)
}

func TestExpand_NonStringValuesAreJSONStringified(t *testing.T) {
	out, err := Expand("run --retries=${retries} --tags=${tags}", `{"retries":3,"tags":["a","b"]}`)

	require.NoError(t, err)
	assert.Equal(t, `run --retries=3 --tags=["a","b"]`, out)
}

func TestExpand_NullValueBecomesEmptyString(t *testing.T) {
	out, err := Expand("run --flag=${flag}", `{"flag":null}`)

	require.NoError(t, err)
	assert.Equal(t, "run --flag=", out)
}

func TestExpand_MalformedInputDataReturnsError(t *testing.T) {
	_, err := Expand("run ${x}", `{not json`)

	require.Error(t, err)
	var malformed *ErrMalformedInput
	assert.ErrorAs(t, err, &malformed)
}

func TestExpand_NoPlaceholdersPassesThrough(t *testing.T) {
	out, err := Expand("run --verbose", `{"date":"2026-07-29"}`)

	require.NoError(t, err)
	assert.Equal(t, "run --verbose", out)
}
