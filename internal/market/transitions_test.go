package market

import (
	"errors"
	"testing"

	"github.com/computemarket/cmkt/internal/models"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from models.TaskStatus
		op   lifecycleOp
		want models.TaskStatus
	}{
		{models.TaskStatusCreated, opStart, models.TaskStatusRunning},
		{models.TaskStatusCreated, opComplete, models.TaskStatusCompleted},
		{models.TaskStatusCreated, opRefund, models.TaskStatusRefunded},
		{models.TaskStatusRunning, opStart, ""},
		{models.TaskStatusRunning, opComplete, models.TaskStatusCompleted},
		{models.TaskStatusRunning, opRefund, models.TaskStatusRefunded},
		{models.TaskStatusCompleted, opStart, ""},
		{models.TaskStatusCompleted, opComplete, ""},
		{models.TaskStatusCompleted, opRefund, ""},
		{models.TaskStatusRefunded, opStart, ""},
		{models.TaskStatusRefunded, opComplete, ""},
		{models.TaskStatusRefunded, opRefund, ""},
	}

	for _, tc := range cases {
		got, err := nextStatus(tc.from, tc.op)
		if tc.want == "" {
			if !errors.Is(err, ErrInvalidStateTransition) {
				t.Errorf("%s from %s: expected rejection, got %s (%v)", tc.op, tc.from, got, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s from %s: unexpected error %v", tc.op, tc.from, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s from %s: expected %s, got %s", tc.op, tc.from, tc.want, got)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range []models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusRefunded} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Errorf("%s has outgoing transitions", s)
		}
		if s.HoldsFunds() {
			t.Errorf("%s should not hold funds", s)
		}
	}
}

func TestNormalizePrincipal(t *testing.T) {
	cases := map[string]string{
		"  0xAbCdEf ": "0xabcdef",
		"0XFF":        "0xff",
		"Alice":       "Alice",
		"0x":          "0x",
		"":            "",
	}
	for in, want := range cases {
		if got := NormalizePrincipal(in); got != want {
			t.Errorf("NormalizePrincipal(%q) = %q, want %q", in, got, want)
		}
	}
}
