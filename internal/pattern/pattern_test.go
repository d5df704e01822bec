package pattern

import "testing"

func TestMatchAnchoredAtStart(t *testing.T) {
	l := MustCompile([]string{"bar@example"})

	if !l.Match("bar@example.com") {
		t.Error("prefix pattern should match address starting with it")
	}
	if l.Match("foobar@example.com") {
		t.Error("pattern must not match in the middle of the address")
	}
}

func TestMatchNotFullString(t *testing.T) {
	// Matching is from the start only, the rest of the address is free.
	l := MustCompile([]string{"admin@"})

	if !l.Match("admin@anything.org") {
		t.Error("pattern should match any address starting with admin@")
	}
}

func TestMatchMultiplePatterns(t *testing.T) {
	l := MustCompile([]string{"a@x.com", "b@y.com"})

	for _, email := range []string{"a@x.com", "b@y.com"} {
		if !l.Match(email) {
			t.Errorf("expected %q to match", email)
		}
	}
	if l.Match("c@z.com") {
		t.Error("unlisted address matched")
	}
}

func TestCompileInvalid(t *testing.T) {
	if _, err := Compile([]string{"("}); err == nil {
		t.Error("expected error for invalid regexp")
	}
}

func TestNilAndEmpty(t *testing.T) {
	var nilList *List
	if nilList.Match("a@x.com") {
		t.Error("nil list matched")
	}
	if !nilList.Empty() {
		t.Error("nil list should be empty")
	}

	empty := MustCompile(nil)
	if empty.Match("a@x.com") {
		t.Error("empty list matched")
	}
}
