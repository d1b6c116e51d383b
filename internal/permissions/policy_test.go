package permissions

import (
	"testing"
)

func TestAutoModeAllowsEverything(t *testing.T) {
	p := NewPolicy(ModeAuto, nil)

	allowed, decided := p.Allowed([]string{"write_file", "run_command"})
	if !allowed || !decided {
		t.Errorf("allowed = %v, decided = %v, want true/true", allowed, decided)
	}
}

func TestAskModeUndecidedWithoutCache(t *testing.T) {
	p := NewPolicy(ModeAsk, nil)

	allowed, decided := p.Allowed([]string{"write_file"})
	if allowed || decided {
		t.Errorf("allowed = %v, decided = %v, want false/false", allowed, decided)
	}
}

func TestCachedAlwaysAllowDecides(t *testing.T) {
	p := NewPolicy(ModeAsk, nil)
	p.CacheDecision("write_file", DecisionAlwaysAllow)
	p.CacheDecision("run_command", DecisionAlwaysAllow)

	allowed, decided := p.Allowed([]string{"write_file", "run_command"})
	if !allowed || !decided {
		t.Errorf("allowed = %v, decided = %v, want true/true", allowed, decided)
	}
}

func TestCachedNeverAllowWins(t *testing.T) {
	p := NewPolicy(ModeAsk, nil)
	p.CacheDecision("write_file", DecisionAlwaysAllow)
	p.CacheDecision("run_command", DecisionNeverAllow)

	allowed, decided := p.Allowed([]string{"write_file", "run_command"})
	if allowed || !decided {
		t.Errorf("allowed = %v, decided = %v, want false/true", allowed, decided)
	}
}

func TestPartialCacheStaysUndecided(t *testing.T) {
	p := NewPolicy(ModeAsk, nil)
	p.CacheDecision("write_file", DecisionAlwaysAllow)

	allowed, decided := p.Allowed([]string{"write_file", "run_command"})
	if allowed || decided {
		t.Errorf("allowed = %v, decided = %v, want false/false", allowed, decided)
	}
}

func TestConfirmerFuncAdapter(t *testing.T) {
	var got string
	c := ConfirmerFunc(func(message string) (bool, error) {
		got = message
		return true, nil
	})

	ok, err := c.Ask("proceed?")
	if !ok || err != nil {
		t.Errorf("ok = %v, err = %v", ok, err)
	}
	if got != "proceed?" {
		t.Errorf("message = %q", got)
	}
}

func TestPolicyAskForwards(t *testing.T) {
	p := NewPolicy(ModeAsk, ConfirmerFunc(func(string) (bool, error) { return false, nil }))
	ok, err := p.Ask("dangerous?")
	if ok || err != nil {
		t.Errorf("ok = %v, err = %v", ok, err)
	}
}

func TestAskWithoutChannelDeniesSafely(t *testing.T) {
	p := NewPolicy(ModeAsk, nil)
	ok, err := p.Ask("dangerous?")
	if ok {
		t.Error("channel-less policy granted permission")
	}
	if err == nil {
		t.Error("channel-less policy did not report the missing channel")
	}
}
