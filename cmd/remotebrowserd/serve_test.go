package main

import "testing"

func TestDisplayHost(t *testing.T) {
	cases := map[string]string{
		"0.0.0.0":    "localhost",
		"":           "localhost",
		"127.0.0.1":  "127.0.0.1",
		"example.io": "example.io",
	}
	for in, want := range cases {
		if got := displayHost(in); got != want {
			t.Errorf("displayHost(%q) = %q, want %q", in, got, want)
		}
	}
}
