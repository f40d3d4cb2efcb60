package contentid

import (
	"slices"
	"sync"
	"testing"
)

func TestCompare_Ordering(t *testing.T) {
	// Each ID must sort strictly before the next one.
	ordered := []string{
		"[speed=100]1.1.1",
		"[speed=100]1.1.1.0",
		"[speed=100]1.1.1.5",
		"[speed=100]1.1.2",
		"[speed=100]a.1.1.2",
		"[speed=100]b.1.1.2",
		"[speed=100]b.1.1.2_1",
		"[speed=100]b.1.1.2_2",
		"[speed=100]b.1.1.2_10",
		"[speed=100]1.2.0",
		"[speed=100]1.2.0.0.0",
		"[speed=100]2.0.0",
		"[speed=120]0.0.0",
	}

	for i := 0; i+1 < len(ordered); i++ {
		a, b := MustParse(ordered[i]), MustParse(ordered[i+1])
		if c := Compare(a, b); c >= 0 {
			t.Errorf("Compare(%s, %s) = %d, want < 0", ordered[i], ordered[i+1], c)
		}
		if c := Compare(b, a); c <= 0 {
			t.Errorf("Compare(%s, %s) = %d, want > 0", ordered[i+1], ordered[i], c)
		}
	}
}

func TestCompare_Gender(t *testing.T) {
	unspecified := MustParse("[speed=100]1.1.1")
	female := MustParse("[speed=100;isMale=false]1.1.1")
	male := MustParse("[speed=100;isMale=true]1.1.1")

	if Compare(unspecified, female) >= 0 {
		t.Error("unspecified gender should sort before female")
	}
	if Compare(female, male) >= 0 {
		t.Error("female (false) should sort before male (true)")
	}
}

func TestCompare_ZeroIffEqualIdentity(t *testing.T) {
	ids := []string{
		"[speed=100]1.1.1",
		"[speed=100]x.1.1.1",
		"[speed=100]1.1.1_1",
		"[speed=100;isMale=true]1.1.1",
		"[speed=100]1.1.1.0",
		"[speed=100]1.1.2",
	}

	for i, a := range ids {
		for j, b := range ids {
			c := Compare(MustParse(a), MustParse(b))
			if (c == 0) != (i == j) {
				t.Errorf("Compare(%s, %s) = %d", a, b, c)
			}
		}
	}

	// Same identity spelled with and without markers at equal speed.
	if c := Compare(MustParse("[speed=0]1.2.3"), MustParse("1.2.3")); c != 0 {
		t.Errorf("expected equal, got %d", c)
	}
}

func TestCompareIdentity_IgnoresSpeed(t *testing.T) {
	a := MustParse("[speed=200]1.1.1")
	b := MustParse("1.1.2")
	if CompareIdentity(a, b) >= 0 {
		t.Error("CompareIdentity should ignore speed")
	}
	if Compare(a, b) <= 0 {
		t.Error("Compare should order by speed first")
	}
}

func TestComparePosition_IgnoresRendering(t *testing.T) {
	if c := ComparePosition(MustParse("[speed=100;isMale=true]1.2.1"), MustParse("1.2.1")); c != 0 {
		t.Errorf("Same content at a different rendering should share a position, got %d", c)
	}
	if ComparePosition(MustParse("[speed=100;isMale=false]1.2.1_2"), MustParse("1.2.1_1")) <= 0 {
		t.Error("Chunk index should still order positions")
	}
	if CompareIdentity(MustParse("[speed=100;isMale=true]1.2.1"), MustParse("1.2.1")) <= 0 {
		t.Error("CompareIdentity should still order by gender")
	}
}

func TestComparator_SortAndCache(t *testing.T) {
	c := NewComparator()
	ids := []string{"[speed=100]1.2.1", "bad-id", "[speed=100]1.1.2", "[speed=100]1.1.1"}

	slices.SortFunc(ids, c.Compare)

	want := []string{"[speed=100]1.1.1", "[speed=100]1.1.2", "[speed=100]1.2.1", "bad-id"}
	if !slices.Equal(ids, want) {
		t.Errorf("sorted = %v, want %v", ids, want)
	}
	if c.Len() != 3 {
		t.Errorf("cached %d parses, want 3 (malformed IDs are not cached)", c.Len())
	}

	c.Forget("[speed=100]1.1.1")
	if c.Len() != 2 {
		t.Errorf("cached %d parses after Forget, want 2", c.Len())
	}
}

func TestComparator_Concurrent(t *testing.T) {
	c := NewComparator()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Compare("[speed=100]1.1.1", "[speed=100]1.1.2")
			}
		}()
	}
	wg.Wait()

	if c.Compare("[speed=100]1.1.1", "[speed=100]1.1.2") >= 0 {
		t.Error("unexpected ordering")
	}
}
