package main

import (
	"bytes"
	"testing"

	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	"github.com/DoyleJ11/anifight-draft/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"draw", command{name: cmdDraw}},
		{"  STATUS ", command{name: cmdStatus}},
		{"start 2 10,11", command{name: cmdStart, templateID: 2, poolIDs: []int64{10, 11}}},
		{"place captain", command{name: cmdPlace, slot: draft.SlotKey{Role: "CAPTAIN"}}},
		{"place support-1", command{name: cmdPlace, slot: draft.SlotKey{Role: "SUPPORT", Index: 1}}},
		{"place vice captain", command{name: cmdPlace, slot: draft.SlotKey{Role: "VICE CAPTAIN"}}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Errors(t *testing.T) {
	for _, line := range []string{"", "jump", "start", "start x 10", "start 2 a,b", "start 2 ,", "place", "draw now"} {
		_, err := parseCommand(line)
		assert.Error(t, err, line)
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, score.Result{
		Left: score.TeamResult{Total: 108375, Breakdown: []score.Row{
			{Role: "CAPTAIN", CharacterName: "Ichigo Kurosaki", SpecialtyMatch: true, Multiplier: 1.5, RoleScore: 108375},
		}},
		Right:  score.TeamResult{Total: 65250},
		Winner: score.WinnerLeft,
	})
	out := buf.String()
	assert.Contains(t, out, "player 1: 1083.75")
	assert.Contains(t, out, "Ichigo Kurosaki")
	assert.Contains(t, out, "x1.5")
	assert.Contains(t, out, "winner: left")
}

func TestSummary(t *testing.T) {
	v := session.View{Room: "ROOM01"}
	v.Session.Role = "host"
	v.Draft.Phase = draft.PhaseIdle
	assert.Equal(t, "[ROOM01] you are host, waiting for opponent", summary(v))

	v.Draft.Phase = draft.PhaseActive
	v.MyTurn = true
	assert.Equal(t, "[ROOM01] your turn, 0 left", summary(v))
}
