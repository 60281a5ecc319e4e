package tracking

import (
	"testing"
)

func TestClassify_Totality(t *testing.T) {
	for refType, vocab := range DefaultVocabularies() {
		ordered := vocab.OrderedKeys()
		for idx, current := range ordered {
			got := Classify(ordered, current)
			if len(got) != len(ordered) {
				t.Fatalf("%s/%s: %d results, want %d", refType, current, len(got), len(ordered))
			}
			for i, c := range got {
				if c.Status != ordered[i] {
					t.Errorf("%s: result %d is %s, want %s", refType, i, c.Status, ordered[i])
				}
				want := PhaseUpcoming
				switch {
				case i < idx:
					want = PhasePast
				case i == idx:
					want = PhaseCurrent
				}
				if c.Phase != want {
					t.Errorf("%s current=%s: %s is %s, want %s", refType, current, c.Status, c.Phase, want)
				}
			}
		}
	}
}

func TestClassify_OutOfBand(t *testing.T) {
	ordered := []string{"a", "b", "c"}
	for _, c := range Classify(ordered, "cancelled") {
		if c.Phase != PhaseUpcoming {
			t.Errorf("%s: phase %s, want upcoming", c.Status, c.Phase)
		}
	}
	if got := Classify(nil, "a"); len(got) != 0 {
		t.Errorf("empty vocabulary gave %d results", len(got))
	}
}

func TestVocabularies(t *testing.T) {
	vocabs := DefaultVocabularies()
	for _, rt := range []ReferenceType{HomeTest, HomeNursing, ProductOrder} {
		v, ok := vocabs[rt]
		if !ok {
			t.Fatalf("missing vocabulary for %s", rt)
		}
		if v.Ordered[0].Key != "order_created" {
			t.Errorf("%s starts at %s", rt, v.Ordered[0].Key)
		}
		if v.Ordered[len(v.Ordered)-1].Key != StatusCompleted {
			t.Errorf("%s ends at %s", rt, v.Ordered[len(v.Ordered)-1].Key)
		}
		if !v.Contains("cancelled") || v.Index("cancelled") != -1 {
			t.Errorf("%s: cancelled must be out-of-band", rt)
		}
		seen := map[string]bool{}
		for _, s := range v.All() {
			if seen[s.Key] {
				t.Errorf("%s: duplicate status %s", rt, s.Key)
			}
			seen[s.Key] = true
		}
	}
	if !vocabs[HomeTest].Contains(StatusResultsReady) || vocabs[ProductOrder].Contains(StatusResultsReady) {
		t.Error("results_ready belongs to home_test only")
	}
}
