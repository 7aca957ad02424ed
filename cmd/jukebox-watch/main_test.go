package main

import (
	"strings"
	"testing"
)

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			`{"type":"card_inserted","data":{"uid":"C1:98:CC:E4","label":"Blue Train","track":6,"mapped":true}}`,
			"[CARD] C1:98:CC:E4 (Blue Train) inserted -> track 6",
		},
		{
			`{"type":"card_inserted","data":{"uid":"91:A2:CC:E4","track":0,"mapped":false}}`,
			"[CARD] 91:A2:CC:E4 inserted, not in table",
		},
		{
			`{"type":"card_removed","data":{"uid":"C1:98:CC:E4"}}`,
			"[CARD] C1:98:CC:E4 removed",
		},
		{
			`{"type":"playback_changed","data":{"playing":true,"track":6}}`,
			"[PLAY] track 6",
		},
		{
			`{"type":"playback_changed","data":{"playing":false}}`,
			"[PAUSE]",
		},
		{
			`{"type":"volume_changed","data":{"volume":17}}`,
			"[VOLUME] 17",
		},
		{
			`{"type":"player_status","data":{"backend":"dfplayer","ready":true}}`,
			"[PLAYER] dfplayer ready=true",
		},
		{
			`{"type":"mystery","data":{"x":1}}`,
			`[mystery] {"x":1}`,
		},
		{
			`hello`,
			"[TEXT] hello",
		},
	}
	for _, tt := range tests {
		if got := formatMessage([]byte(tt.in)); got != tt.want {
			t.Errorf("formatMessage(%s)\n got %q\nwant %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatMessage_StateInit(t *testing.T) {
	got := formatMessage([]byte(`{"type":"state_init","ts":"2024-01-02T03:04:05Z","data":{"active_uid":"C1:98:CC:E4","playing":true}}`))
	if !strings.Contains(got, "[STATE]") || !strings.Contains(got, `"active_uid": "C1:98:CC:E4"`) {
		t.Fatalf("unexpected state_init rendering %q", got)
	}
}
