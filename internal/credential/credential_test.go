package credential

import "testing"

func TestManager_OnePerTarget(t *testing.T) {
	m := NewManager()

	first := m.Open("https://portal.example.com", []Field{{Name: "username", Kind: "text"}})
	second := m.Open("https://portal.example.com", []Field{
		{Name: "username", Kind: "text"},
		{Name: "password", Kind: "password"},
	})

	reqs := m.List()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one outstanding request, got %d", len(reqs))
	}
	if reqs[0].ID != second.ID {
		t.Error("reopening a target should replace the prior request")
	}
	if reqs[0].ID == first.ID {
		t.Error("stale request should not remain outstanding")
	}
}

func TestManager_ConsumePreservesFields(t *testing.T) {
	m := NewManager()
	m.Open("site-a", []Field{{Name: "user", Kind: "text"}, {Name: "pass", Kind: "password"}})

	req, err := m.Consume("site-a")
	if err != nil {
		t.Fatalf("consume error: %v", err)
	}
	if !req.Submitted {
		t.Error("consumed request should be marked submitted")
	}
	if len(req.Fields) != 2 {
		t.Errorf("consumed request should keep the field list, got %d fields", len(req.Fields))
	}
	if _, ok := m.Outstanding("site-a"); ok {
		t.Error("consumed request should no longer be outstanding")
	}
}

func TestManager_ConsumeUnknown(t *testing.T) {
	m := NewManager()
	if _, err := m.Consume("nope"); err == nil {
		t.Error("consuming an unknown target should error")
	}
}

func TestManager_ReopenKeepsDiscoveredFields(t *testing.T) {
	m := NewManager()
	m.Open("site-a", []Field{{Name: "user", Kind: "text"}, {Name: "otp", Kind: "totp"}})

	req, err := m.Consume("site-a")
	if err != nil {
		t.Fatal(err)
	}

	// Bad credentials: the request is reinstated without re-discovery.
	again := m.Reopen(req)
	if len(again.Fields) != 2 || again.Fields[1].Name != "otp" {
		t.Errorf("reopened request should preserve discovered fields, got %v", again.Fields)
	}
	if again.ID == req.ID {
		t.Error("reopened request should get a fresh ID")
	}
	if _, ok := m.Outstanding("site-a"); !ok {
		t.Error("reopened request should be outstanding again")
	}
}

func TestValues_Wipe(t *testing.T) {
	v := Values{"user": "alice", "pass": "hunter2"}
	v.Wipe()
	if len(v) != 0 {
		t.Errorf("wiped values should be empty, got %v", v)
	}
}

func TestManager_ListSorted(t *testing.T) {
	m := NewManager()
	m.Open("site-b", nil)
	m.Open("site-a", nil)
	reqs := m.List()
	if len(reqs) != 2 || reqs[0].TargetID != "site-a" {
		t.Errorf("list should be sorted by target, got %v", reqs)
	}
}
