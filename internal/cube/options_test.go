package cube

import "testing"

func TestParseMergeStrategy(t *testing.T) {
	cases := []struct {
		in      string
		want    MergeStrategy
		wantErr bool
	}{
		{"", MergeFirst, false},
		{"first", MergeFirst, false},
		{"average", MergeAverage, false},
		{"all", MergeAll, false},
		{"median", 0, true},
	}
	for _, c := range cases {
		got, err := ParseMergeStrategy(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseMergeStrategy(%q) expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMergeStrategy(%q) failed: %v", c.in, err)
		} else if got != c.want {
			t.Errorf("ParseMergeStrategy(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseSortOrder(t *testing.T) {
	if got, err := ParseSortOrder("oldest"); err != nil || got != OldestFirst {
		t.Errorf("ParseSortOrder(oldest) = (%v, %v)", got, err)
	}
	if got, err := ParseSortOrder(""); err != nil || got != NewestFirst {
		t.Errorf("ParseSortOrder(\"\") = (%v, %v)", got, err)
	}
	if _, err := ParseSortOrder("random"); err == nil {
		t.Error("ParseSortOrder(random) expected error")
	}
}
