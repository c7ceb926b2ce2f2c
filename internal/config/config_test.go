package config

import "testing"

func TestSplitNonEmpty(t *testing.T) {
	got := splitNonEmpty("BTCUSD,ETHUSD,,SOLUSD", ',')
	want := []string{"BTCUSD", "ETHUSD", "SOLUSD"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("ENGINE_TEST_STR", "hello")
	if got := envStr("ENGINE_TEST_STR", "default"); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	if got := envStr("ENGINE_TEST_STR_MISSING", "default"); got != "default" {
		t.Fatalf("expected default, got %q", got)
	}

	t.Setenv("ENGINE_TEST_INT", "42")
	if got := envInt("ENGINE_TEST_INT", 0); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	t.Setenv("ENGINE_TEST_BOOL", "true")
	if got := envBool("ENGINE_TEST_BOOL", false); got != true {
		t.Fatalf("expected true, got %v", got)
	}
}
