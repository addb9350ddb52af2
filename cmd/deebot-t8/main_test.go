package main

import (
	"context"
	"testing"
	"time"

	"github.com/deebot-t8/deebot-t8-go/pkg/api"
	"github.com/deebot-t8/deebot-t8-go/pkg/entity"
)

type recordedCall struct {
	command string
	data    any
}

type fakeExecutor struct {
	calls []recordedCall
}

func (f *fakeExecutor) Execute(ctx context.Context, device api.Device, command string, data any) (*api.Response, error) {
	f.calls = append(f.calls, recordedCall{command: command, data: data})
	return &api.Response{}, nil
}

func newActionEntity(f *fakeExecutor) *entity.Entity {
	return entity.New(entity.Config{
		Executor:     f,
		Device:       api.Device{ID: "did-1", ShortID: "E001", Class: "55aiho", Resource: "atom"},
		PollInterval: time.Hour,
	})
}

func TestRunActionToggles(t *testing.T) {
	cases := []struct {
		action  string
		arg     string
		command string
		enable  int
	}{
		{"set-true-detect", "on", "setTrueDetect", 1},
		{"set-clean-preference", "off", "setCleanPreference", 0},
		{"set-auto-boost", "on", "setCarpertPressure", 1},
		{"set-auto-empty", "off", "setAutoEmpty", 0},
	}

	for _, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			f := &fakeExecutor{}
			ent := newActionEntity(f)

			if err := runAction(context.Background(), ent, tc.action, []string{tc.arg}); err != nil {
				t.Fatalf("runAction(%s) failed: %v", tc.action, err)
			}
			if len(f.calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(f.calls))
			}
			if f.calls[0].command != tc.command {
				t.Errorf("command = %q, want %q", f.calls[0].command, tc.command)
			}
			data, ok := f.calls[0].data.(map[string]any)
			if !ok {
				t.Fatalf("data = %T, want map", f.calls[0].data)
			}
			if data["enable"] != tc.enable {
				t.Errorf("enable = %v, want %d", data["enable"], tc.enable)
			}
		})
	}
}

func TestRunActionRejectsBadToggleArg(t *testing.T) {
	f := &fakeExecutor{}
	ent := newActionEntity(f)

	if err := runAction(context.Background(), ent, "set-auto-boost", []string{"maybe"}); err == nil {
		t.Fatal("expected error for invalid on/off value")
	}
	if len(f.calls) != 0 {
		t.Errorf("calls = %d, want none", len(f.calls))
	}
}

func TestRunActionUnknown(t *testing.T) {
	ent := newActionEntity(&fakeExecutor{})
	if err := runAction(context.Background(), ent, "self-destruct", nil); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
