package auth

import "testing"

func TestHasPermissionMatchesLevelComparison(t *testing.T) {
	for level := MinLevel; level <= MaxLevel; level += 5 {
		u := &User{Username: "u", Level: level}
		for required := -10; required <= 110; required += 10 {
			got := HasPermission(u, required)
			want := level >= required
			if got != want {
				t.Fatalf("HasPermission(level=%d, required=%d)=%v, want %v", level, required, got, want)
			}
		}
	}
}

func TestHasPermissionWithoutUser(t *testing.T) {
	for _, required := range []int{-1, 0, 50, 100} {
		if HasPermission(nil, required) {
			t.Fatalf("nil user must never have permission (required=%d)", required)
		}
	}
}

func TestCanViewUsesSameRule(t *testing.T) {
	intern := &User{Username: "demo_intern", Level: 10}
	if !CanView(intern, 10) {
		t.Fatalf("intern should see level 10 content")
	}
	if CanView(intern, 30) {
		t.Fatalf("intern must not see level 30 content")
	}
}

func TestBandForLevel(t *testing.T) {
	cases := []struct {
		level int
		want  Band
	}{
		{0, BandEntry},
		{29, BandEntry},
		{30, BandProfessional},
		{59, BandProfessional},
		{60, BandSenior},
		{79, BandSenior},
		{80, BandExecutive},
		{100, BandExecutive},
	}
	for _, tc := range cases {
		if got := BandForLevel(tc.level); got != tc.want {
			t.Fatalf("BandForLevel(%d)=%s, want %s", tc.level, got, tc.want)
		}
	}
}

func TestBandIsMonotonic(t *testing.T) {
	rank := map[Band]int{BandEntry: 0, BandProfessional: 1, BandSenior: 2, BandExecutive: 3}
	prev := rank[BandForLevel(MinLevel)]
	for level := MinLevel + 1; level <= MaxLevel; level++ {
		cur := rank[BandForLevel(level)]
		if cur < prev {
			t.Fatalf("band decreased at level %d", level)
		}
		prev = cur
	}
}

func TestUserValidate(t *testing.T) {
	if err := (User{Username: "a", Level: 100}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (User{Username: "a", Level: 101}).Validate(); err == nil {
		t.Fatalf("expected out of range error")
	}
	if err := (User{Username: " ", Level: 10}).Validate(); err == nil {
		t.Fatalf("expected missing username error")
	}
}
