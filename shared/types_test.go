package shared

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagContentPoints(t *testing.T) {
	cases := []struct {
		name    string
		value   any
		want    int
		wantErr bool
	}{
		{name: "json number", value: float64(100), want: 100},
		{name: "quoted integer", value: "250", want: 250},
		{name: "fractional", value: 10.5, wantErr: true},
		{name: "non-numeric string", value: "abc", wantErr: true},
		{name: "nil", value: nil, wantErr: true},
		{name: "negative", value: float64(-50), want: -50},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := FlagContent{FlagPoints: tc.value}
			got, err := fc.Points()
			if tc.wantErr {
				require.EqualError(t, err, "points must be a valid integer")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeFlagContent(t *testing.T) {
	// Content arrives as the generic map the JSON decoder produced.
	content := map[string]any{
		"action":         "submit",
		"challenge_name": "web100",
		"flag_value":     "flag{x}",
		"flag_points":    float64(100),
	}

	fc, err := DecodeFlagContent(content)
	require.NoError(t, err)
	assert.Equal(t, "submit", fc.Action)
	assert.Equal(t, "web100", fc.ChallengeName)
	assert.Equal(t, "flag{x}", fc.FlagValue)

	points, err := fc.Points()
	require.NoError(t, err)
	assert.Equal(t, 100, points)
}

func TestFlagRowWireFormat(t *testing.T) {
	row := FlagRow{
		ID:            3,
		ChallengeName: "web100",
		FlagValue:     "flag{x}",
		Points:        100,
		TeamName:      "red",
		Timestamp:     "2026-08-23T10:00:00Z",
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"web100","flag{x}",100,"red","2026-08-23T10:00:00Z"]`, string(data))

	var decoded FlagRow
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, row, decoded)
}

func TestFlagRowNullTeam(t *testing.T) {
	row := FlagRow{ID: 1, ChallengeName: "bonus", FlagValue: "flag{op}", Points: 500, Timestamp: "2026-08-23T10:00:00Z"}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,"bonus","flag{op}",500,null,"2026-08-23T10:00:00Z"]`, string(data))

	var decoded FlagRow
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Empty(t, decoded.TeamName)
}

func TestDecodeFlagRows(t *testing.T) {
	var content any
	raw := `[[1,"web100","flag{x}",100,"red","2026-08-23T10:00:00Z"],[2,"bonus","flag{op}",500,null,"2026-08-23T11:00:00Z"]]`
	require.NoError(t, json.Unmarshal([]byte(raw), &content))

	rows, err := DecodeFlagRows(content)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "red", rows[0].TeamName)
	assert.Empty(t, rows[1].TeamName)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		Type:      KindMsg,
		From:      "alice",
		Content:   "hello",
		Breakroom: true,
		Timestamp: 1756000000.5,
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, env, decoded)
}
