package main

import (
	"strings"
	"testing"
)

func TestCardTable_LookupAndLabels(t *testing.T) {
	table, err := NewCardTable([]CardEntry{
		{UID: "c1:9e:cc:e4", Track: 1, Label: "Kind of Blue"},
		{UID: "B1A0CCE4", Track: 2},
	})
	if err != nil {
		t.Fatalf("NewCardTable: %v", err)
	}

	if got := table.TrackFor("C1:9E:CC:E4"); got != 1 {
		t.Errorf("TrackFor(C1:9E:CC:E4) = %d, want 1", got)
	}
	if got := table.TrackFor("B1:A0:CC:E4"); got != 2 {
		t.Errorf("TrackFor(B1:A0:CC:E4) = %d, want 2", got)
	}
	if got := table.TrackFor("00:00:00:00"); got != NoTrack {
		t.Errorf("unknown card: got %d, want NoTrack", got)
	}
	if got := table.Label("C1:9E:CC:E4"); got != "Kind of Blue" {
		t.Errorf("Label = %q", got)
	}
	if got := table.Label("B1:A0:CC:E4"); got != "" {
		t.Errorf("expected empty label, got %q", got)
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}

func TestCardTable_NilIsEmpty(t *testing.T) {
	var table *CardTable
	if table.TrackFor(cardA) != NoTrack || table.Label(cardA) != "" || table.Len() != 0 {
		t.Fatalf("nil table should map nothing")
	}
}

func TestNewCardTable_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		entries []CardEntry
		wantErr string
	}{
		{
			name:    "bad uid",
			entries: []CardEntry{{UID: "xyz", Track: 1}},
			wantErr: "cards[0]",
		},
		{
			name:    "zero track",
			entries: []CardEntry{{UID: string(cardA), Track: 0}},
			wantErr: "out of range",
		},
		{
			name:    "track too large",
			entries: []CardEntry{{UID: string(cardA), Track: 10000}},
			wantErr: "out of range",
		},
		{
			name: "duplicate after canonicalization",
			entries: []CardEntry{
				{UID: "C1:98:CC:E4", Track: 1},
				{UID: "c198cce4", Track: 2},
			},
			wantErr: "duplicate uid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCardTable(tt.entries)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}
