package internal

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestShowProgress(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		fn      func() error
		wantErr bool
	}{
		{name: "success", fn: func() error { return nil }},
		{name: "failure", fn: func() error { return errors.New("test error") }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ShowProgress(ctx, "Testing", tt.fn)
			if (err != nil) != tt.wantErr {
				t.Errorf("ShowProgress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestShowProgressWithSteps(t *testing.T) {
	original := progressOut
	defer func() { progressOut = original }()
	progressOut = &bytes.Buffer{}

	var ran []string
	step := func(name string, err error) ProgressStep {
		return ProgressStep{Message: name, Fn: func() error {
			ran = append(ran, name)
			return err
		}}
	}

	err := ShowProgressWithSteps(context.Background(), []ProgressStep{
		step("discover", nil),
		step("convert", errors.New("boom")),
		step("save", nil),
	})
	if err == nil {
		t.Fatal("ShowProgressWithSteps() error = nil, want failure from second step")
	}
	if len(ran) != 2 {
		t.Errorf("ShowProgressWithSteps() ran %v, want it to stop after the failing step", ran)
	}
}

func TestIsTerminal(t *testing.T) {
	if isTerminal(&bytes.Buffer{}) {
		t.Error("isTerminal(buffer) = true, want false")
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, warningStyle, "⚠", "WARNING: ", "disk almost full")
	if got := buf.String(); got != "WARNING: disk almost full\n" {
		t.Errorf("printStatus() = %q, want plain prefix on a non-terminal", got)
	}
}

func TestShowProgressCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ShowProgress(ctx, "Testing", func() error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ShowProgress() error = %v, want context.Canceled", err)
	}
}
