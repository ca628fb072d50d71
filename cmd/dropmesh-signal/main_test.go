package main

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "dropmesh-signal commit=") {
		t.Fatalf("output=%q", out.String())
	}
}

func TestServeConfigErrorExitsWithUsageCode(t *testing.T) {
	for _, args := range [][]string{
		{"--mode", "staging"},
		{"serve", "--max-signaling-messages-per-second", "0"},
		{"--no-such-flag"},
	} {
		cmd := newRootCommand()
		cmd.SetArgs(args)

		err := cmd.Execute()
		var ee *exitError
		if !errors.As(err, &ee) {
			t.Fatalf("%v: err=%v, want *exitError", args, err)
		}
		if ee.code != 2 {
			t.Fatalf("%v: exit code=%d, want 2", args, ee.code)
		}
	}
}

func TestServeHelpIsNotAnError(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("--help: %v", err)
	}
}

func TestServeListenErrorExitsWithRuntimeCode(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--listen-addr", busy.Addr().String()})

	err = cmd.Execute()
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Fatalf("err=%v, want exit code 1", err)
	}
}
