package network

import (
	"testing"
	"time"
)

func TestRetryBackoff(t *testing.T) {
	r := NewRetry(1000*time.Millisecond, 3)

	expected := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		3000 * time.Millisecond,
		3000 * time.Millisecond,
		3000 * time.Millisecond,
	}
	var prev time.Duration
	for i, want := range expected {
		got := r.Fail()
		if got != want {
			t.Errorf("attempt %v: expected delay %v, got %v", i, want, got)
		}
		if got < prev {
			t.Errorf("attempt %v: delay %v decreased from %v", i, got, prev)
		}
		prev = got
	}

	r.Success()
	if r.Time() != 1000*time.Millisecond {
		t.Errorf("expected reset to base, got %v", r.Time())
	}
}

func TestRetryDefaults(t *testing.T) {
	r := NewRetry(0, 0)
	if d := r.Fail(); d != time.Second {
		t.Errorf("expected base fallback of 1s, got %v", d)
	}
	if d := r.Fail(); d != time.Second {
		t.Errorf("expected capped delay of 1s, got %v", d)
	}
}

func TestAddressPort(t *testing.T) {
	tests := []struct {
		input Address
		port  int
		err   string
	}{
		{input: "", port: 0, err: "no address"},
		{input: ":", port: 0, err: "port is not a number"},
		{input: "https://garbage.com:99a9a", port: 0, err: "port is not a number"},
		{input: ":9000", port: 9000},
		{input: "not-garbage:9999", port: 9999},
	}

	for _, test := range tests {
		port, err := test.input.Port()
		if port != test.port || (err != nil && test.err != err.Error()) {
			t.Errorf("Test fail for expected port %v but got %v with error %v", test.port, port, err)
		}
	}
}
