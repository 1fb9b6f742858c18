package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCache_HitSetsFromCache(t *testing.T) {
	c := NewCache(nil)
	fp := Compute(KindTargetAnalysis, "file-abc")

	art, err := New(fp, &TargetAnalysis{ReportName: "Q3", Format: "xlsx"})
	if err != nil {
		t.Fatalf("new artifact: %v", err)
	}
	if err := c.Put(KindTargetAnalysis, fp, art); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := c.Get(KindTargetAnalysis, fp)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.FromCache {
		t.Error("cache hit should set FromCache")
	}
	if got.Target == nil || got.Target.ReportName != "Q3" {
		t.Error("cached payload should round-trip")
	}
}

func TestCache_Miss(t *testing.T) {
	c := NewCache(nil)
	_, err := c.Get(KindSourceMapping, Compute(KindSourceMapping, "x"))
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestCache_PutOverwrites(t *testing.T) {
	c := NewCache(nil)
	fp := Compute(KindTargetAnalysis, "same-input")

	first, _ := New(fp, &TargetAnalysis{ReportName: "v1"})
	second, _ := New(fp, &TargetAnalysis{ReportName: "v2"})
	if err := c.Put(KindTargetAnalysis, fp, first); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(KindTargetAnalysis, fp, second); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(KindTargetAnalysis, fp)
	if err != nil {
		t.Fatal(err)
	}
	if got.Target.ReportName != "v2" {
		t.Errorf("expected overwritten entry, got %q", got.Target.ReportName)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestCache_RejectsMismatchedPayload(t *testing.T) {
	c := NewCache(nil)
	bad := &Artifact{Kind: KindBuildPlan} // no payload
	if err := c.Put(KindBuildPlan, "fp", bad); err == nil {
		t.Error("put should reject an artifact with no matching payload")
	}
}

func TestFingerprint_OrderAndSetSemantics(t *testing.T) {
	a := Compute(KindSourceMapping, "target-fp", "s1", "s2")
	b := Compute(KindSourceMapping, "target-fp", "s2", "s1")
	if a == b {
		t.Error("ordered inputs should be order-sensitive")
	}

	x := ComputeSet(KindSourceMapping, []string{"target-fp"}, []string{"s1", "s2"})
	y := ComputeSet(KindSourceMapping, []string{"target-fp"}, []string{"s2", "s1"})
	if x != y {
		t.Error("set inputs should be order-free")
	}
}

func TestFingerprint_KindSeparation(t *testing.T) {
	if Compute(KindTargetAnalysis, "in") == Compute(KindSourceMapping, "in") {
		t.Error("identical inputs under different kinds must not collide")
	}
}

func TestFingerprint_NoConcatCollision(t *testing.T) {
	if Compute(KindTargetAnalysis, "ab", "c") == Compute(KindTargetAnalysis, "a", "bc") {
		t.Error("length prefixing should prevent concatenation collisions")
	}
}

func TestFileFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.xlsx")
	if err := os.WriteFile(path, []byte("rows"), 0644); err != nil {
		t.Fatal(err)
	}

	fp1, err := FileFingerprint(path)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fp2, _ := FileFingerprint(path)
	if fp1 != fp2 {
		t.Error("fingerprint should be deterministic")
	}

	if err := os.WriteFile(path, []byte("rows v2"), 0644); err != nil {
		t.Fatal(err)
	}
	fp3, _ := FileFingerprint(path)
	if fp3 == fp1 {
		t.Error("changed content should change the fingerprint")
	}
}

func TestArtifact_Validate(t *testing.T) {
	cases := []struct {
		name    string
		art     Artifact
		wantErr bool
	}{
		{"matching", Artifact{Kind: KindBuildPlan, Plan: &BuildPlan{}}, false},
		{"missing payload", Artifact{Kind: KindCapabilitySet}, true},
		{"unknown kind", Artifact{Kind: "bogus"}, true},
	}
	for _, tc := range cases {
		err := tc.art.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: got err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}
