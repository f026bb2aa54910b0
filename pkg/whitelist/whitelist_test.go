package whitelist

import "testing"

func TestAllowEmptyListAllowsEverything(t *testing.T) {
	w := New(nil)
	if !w.Allow("anything.example.com") {
		t.Fatalf("empty whitelist must allow all hostnames")
	}
}

func TestAllowStarGoogleCom(t *testing.T) {
	w := New([]string{"*google.com"})
	for _, host := range []string{"google.com", "www.google.com", "maps.google.com"} {
		if !w.Allow(host) {
			t.Errorf("*google.com should match %q", host)
		}
	}
	if w.Allow("evil.com") {
		t.Errorf("*google.com must not match evil.com")
	}
}

func TestAllowDotStarGoogleCom(t *testing.T) {
	w := New([]string{"*.google.com"})
	if !w.Allow("www.google.com") {
		t.Errorf("*.google.com should match www.google.com")
	}
	if w.Allow("google.com") {
		t.Errorf("*.google.com must not match bare google.com")
	}
}

func TestAllowMultiWildcardProdInternal(t *testing.T) {
	w := New([]string{"*.prod.*.internal"})
	if !w.Allow("web.prod.db.internal") {
		t.Errorf("*.prod.*.internal should match web.prod.db.internal")
	}
	if w.Allow("dev.stage.db.internal") {
		t.Errorf("*.prod.*.internal must not match dev.stage.db.internal")
	}
}

func TestAllowBareStarMatchesEverything(t *testing.T) {
	w := New([]string{"*"})
	for _, host := range []string{"a.com", "xyz.internal", ""} {
		if !w.Allow(host) {
			t.Errorf("* should match %q", host)
		}
	}
}

func TestAllowCaseInsensitiveHostname(t *testing.T) {
	w := New([]string{"*.Example.com"})
	if !w.Allow("WWW.EXAMPLE.COM") {
		t.Errorf("hostname matching must be case-insensitive")
	}
}

func TestAllowExactLiteralNoWildcard(t *testing.T) {
	w := New([]string{"exact.example.com"})
	if w.Allow("sub.exact.example.com") {
		t.Errorf("literal pattern with no '*' must require an exact match")
	}
	if w.Allow("notexact.example.com") {
		t.Errorf("literal pattern must not match a different hostname")
	}
	if !w.Allow("exact.example.com") {
		t.Errorf("literal pattern must match itself exactly")
	}
}

func TestAllowOrdersAcrossMultiplePatterns(t *testing.T) {
	w := New([]string{"*.internal", "*google.com"})
	if !w.Allow("db.internal") || !w.Allow("maps.google.com") {
		t.Errorf("any matching pattern in the list should allow the hostname")
	}
	if w.Allow("evil.com") {
		t.Errorf("hostname matching none of the patterns must be rejected")
	}
}

func TestAllowRejectsWhenInteriorSegmentMissing(t *testing.T) {
	w := New([]string{"*.prod.*.internal"})
	if w.Allow("web.staging.db.internal") {
		t.Errorf("missing interior segment 'prod' must be rejected")
	}
}

func TestAllowMiddleWildcardRequiresSuffix(t *testing.T) {
	w := New([]string{"a*b"})
	if !w.Allow("ab") {
		t.Errorf("a*b should match ab")
	}
	if !w.Allow("ababab") {
		t.Errorf("a*b should match ababab (wildcard may reconsume literal text)")
	}
	if w.Allow("abx") {
		t.Errorf("a*b must not match abx (does not end in b)")
	}
}
