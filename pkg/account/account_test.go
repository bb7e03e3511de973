package account

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(b byte) ID {
	var id ID
	for i := range id {
		id[i] = b + byte(i)
	}
	return id
}

func TestParseRoundTrip(t *testing.T) {
	id := sample(7)
	got, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestParseKnownKey(t *testing.T) {
	// System program id: 32 zero bytes.
	id, err := Parse("11111111111111111111111111111111")
	require.NoError(t, err)
	assert.True(t, id.IsZero())
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"bad symbol": "0OIl",
		"too short":  "3mJr7AoUXx2Wqd",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(in)
			var de *DecodeError
			require.True(t, errors.As(err, &de), "want DecodeError, got %v", err)
			assert.Equal(t, in, de.Value)
		})
	}
}

func TestJSONUsesBase58(t *testing.T) {
	id := sample(1)
	b, err := json.Marshal(struct {
		Account ID `json:"account"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"account":"`+id.String()+`"}`, string(b))

	var back struct {
		Account ID `json:"account"`
	}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, id, back.Account)
}

func TestParseAllStopsAtFirstFailure(t *testing.T) {
	_, err := ParseAll([]string{sample(1).String(), "nope"})
	require.Error(t, err)

	ids, err := ParseAll(Strings([]ID{sample(1), sample(2)}))
	require.NoError(t, err)
	assert.Equal(t, []ID{sample(1), sample(2)}, ids)
}
