package main

import (
	"errors"
	"testing"
)

func TestBuildEnvelope(t *testing.T) {
	env, err := buildEnvelope([]string{"place", "C1:98:CC:E4"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if env.Type != "card_place" || string(env.Data) != `{"uid":"C1:98:CC:E4"}` {
		t.Fatalf("unexpected envelope %+v (%s)", env, env.Data)
	}

	for _, args := range [][]string{{"lift"}, {"remove"}} {
		env, err := buildEnvelope(args)
		if err != nil || env.Type != "card_lift" || env.Data != nil {
			t.Fatalf("%v: got %+v, %v", args, env, err)
		}
	}

	env, err = buildEnvelope([]string{"ping"})
	if err != nil || env.Type != "ping" {
		t.Fatalf("ping: got %+v, %v", env, err)
	}
}

func TestBuildEnvelope_Errors(t *testing.T) {
	if _, err := buildEnvelope([]string{"insert"}); err == nil {
		t.Fatalf("expected error for insert without uid")
	}
	if _, err := buildEnvelope([]string{"eject"}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if _, err := buildEnvelope([]string{"--help"}); !errors.Is(err, errHelp) {
		t.Fatalf("expected errHelp, got %v", err)
	}
}
