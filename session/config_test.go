package session

import (
	"testing"

	"github.com/juju/errors"

	"zoiper-rpc/registry"
)

func noop(args ...any) (any, error) { return nil, nil }

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig, true},
		{"callbacks", Config{Callbacks: []Callback{{"a", noop}, {"b", func(s string) error { return nil }}}}, true},
		{"func wrapper", Config{Callbacks: []Callback{{"a", registry.NewFunc(noop)}}}, true},
		{"rate limited", Config{CallbackRate: 10, CallbackBurst: 5}, true},
		{"no name", Config{Callbacks: []Callback{{"", noop}}}, false},
		{"duplicate", Config{Callbacks: []Callback{{"a", noop}, {"a", noop}}}, false},
		{"nil func", Config{Callbacks: []Callback{{"a", nil}}}, false},
		{"nil wrapper", Config{Callbacks: []Callback{{"a", (*registry.Func)(nil)}}}, false},
		{"not a func", Config{Callbacks: []Callback{{"a", 42}}}, false},
		{"bad signature", Config{Callbacks: []Callback{{"a", func() (int, int) { return 0, 0 }}}}, false},
		{"rate without burst", Config{CallbackRate: 10}, false},
		{"negative rate", Config{CallbackRate: -1, CallbackBurst: 1}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expect error", tc.name)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Callbacks: []Callback{{"a", noop}, {"a", noop}}})
	if !errors.IsAlreadyExists(err) {
		t.Fatalf("expect duplicate callback error, got %v", err)
	}
}

func TestRateLimitIsAppended(t *testing.T) {
	cfg := DefaultConfig
	cfg.CallbackRate, cfg.CallbackBurst = 1, 1
	if got := len(cfg.middlewares()); got != 2 {
		t.Fatalf("expect logging and rate limit, got %d middlewares", got)
	}
	if got := len(DefaultConfig.middlewares()); got != 1 {
		t.Fatalf("default config must stay untouched, got %d middlewares", got)
	}
}
