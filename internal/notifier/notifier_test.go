package notifier

import "testing"

func TestNotify_FiresOncePerDistinctChange(t *testing.T) {
	n := New()
	var calls [][2]string
	n.OnActiveEndpointChange(func(prev, next string) {
		calls = append(calls, [2]string{prev, next})
	})

	n.Notify("a", "b")
	if len(calls) != 1 || calls[0] != [2]string{"a", "b"} {
		t.Fatalf("calls = %v, want one (a,b)", calls)
	}
}

func TestNotify_SwallowsNoOpReselection(t *testing.T) {
	n := New()
	fired := 0
	n.OnActiveEndpointChange(func(prev, next string) { fired++ })

	n.Notify("a", "a")
	if fired != 0 {
		t.Errorf("no-op reselection fired %d times", fired)
	}
}

func TestOnActiveEndpointChange_ReplacesSubscriber(t *testing.T) {
	n := New()
	firstFired := false
	secondFired := false
	n.OnActiveEndpointChange(func(prev, next string) { firstFired = true })
	n.OnActiveEndpointChange(func(prev, next string) { secondFired = true })

	n.Notify("a", "b")
	if firstFired {
		t.Error("replaced subscriber still fired")
	}
	if !secondFired {
		t.Error("current subscriber did not fire")
	}
}

func TestNotify_NoSubscriberIsSafe(t *testing.T) {
	n := New()
	n.Notify("a", "b")

	n.OnActiveEndpointChange(func(prev, next string) {})
	n.OnActiveEndpointChange(nil)
	n.Notify("b", "c")
}
