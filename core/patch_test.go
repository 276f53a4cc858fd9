package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_UnmarshalJSON(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{"string", `"t-1"`, "t-1", false},
		{"integer", `42`, "42", false},
		{"null", `null`, "", false},
		{"object", `{"a":1}`, "", true},
		{"bool", `true`, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var id ID
			err := json.Unmarshal([]byte(tc.input), &id)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
		})
	}
}

func TestTimestamp_AcceptsBackendFormats(t *testing.T) {
	for _, input := range []string{
		`"2025-03-01T10:20:30.123456"`,
		`"2025-03-01T10:20:30"`,
		`"2025-03-01T10:20:30Z"`,
		`"2025-03-01T12:20:30+02:00"`,
	} {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(input), &ts), input)
		assert.Equal(t, 2025, ts.Year())
		assert.Equal(t, 10, ts.UTC().Hour(), input)
	}

	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))

	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))

	out, err = json.Marshal(NewTimestamp(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, `"2025-01-02T03:04:05Z"`, string(out))
}

func TestDecodeThreatPatch(t *testing.T) {
	p, err := DecodeThreatPatch([]byte(`{"id":7,"status":"Responding","severity":"HIGH","type":"DDoS","confidence":88.5}`))
	require.NoError(t, err)
	assert.Equal(t, ID("7"), p.ID)
	require.NotNil(t, p.Status)
	assert.Equal(t, ThreatStatusMitigating, *p.Status, "responding folds into mitigating")
	assert.Equal(t, SeverityHigh, *p.Severity)
	assert.Equal(t, "DDoS", *p.CategoryValue())
	assert.Nil(t, p.Source, "absent fields stay nil")
}

func TestDecodeThreatPatch_Rejects(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"missing id", `{"status":"active"}`},
		{"unknown status", `{"id":"t1","status":"exploded"}`},
		{"unknown severity", `{"id":"t1","severity":"apocalyptic"}`},
		{"confidence above range", `{"id":"t1","confidence":140}`},
		{"not an object", `["t1"]`},
		{"bad timestamp", `{"id":"t1","timestamp":"soon"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeThreatPatch([]byte(tc.input))
			assert.Error(t, err)
		})
	}
}

func TestDecodeAlertPatch(t *testing.T) {
	p, err := DecodeAlertPatch([]byte(`{"id":"a1","threat_id":3,"read":false,"severity":"critical"}`))
	require.NoError(t, err)
	require.NotNil(t, p.Read)
	assert.False(t, *p.Read)
	assert.Equal(t, ID("3"), *p.ThreatID)

	_, err = DecodeAlertPatch([]byte(`{"read":true}`))
	assert.Error(t, err)
}

func TestDecodeLogPatch(t *testing.T) {
	p, err := DecodeLogPatch([]byte(`{"level":"warning","message":"failed login","anomaly_score":0.8}`))
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, p.Level)
	assert.True(t, p.ID.IsZero())

	_, err = DecodeLogPatch([]byte(`{"level":"TRACE"}`))
	assert.Error(t, err)
}

func TestDecodeStatsPatch(t *testing.T) {
	p, err := DecodeStatsPatch([]byte(`{"active_threats":3,"unread_alerts":null}`))
	require.NoError(t, err)
	require.NotNil(t, p.ActiveThreats)
	assert.Equal(t, 3, *p.ActiveThreats)
	assert.Nil(t, p.UnreadAlerts)
	assert.Nil(t, p.TotalLogs)

	_, err = DecodeStatsPatch([]byte(`{"active_threats":-1}`))
	assert.Error(t, err)
}
