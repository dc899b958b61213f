package normalize

import "testing"

func TestEmail(t *testing.T) {
	in := "  John.DOE@Example.COM  "
	want := "john.doe@example.com"
	got := Email(in)
	if got != want {
		t.Fatalf("Email(%q) = %q, want %q", in, got, want)
	}
}

func TestSameEmail(t *testing.T) {
	if !SameEmail("Alice@X.com", " alice@x.com") {
		t.Fatal("expected addresses differing in case and whitespace to match")
	}
	if SameEmail("alice@x.com", "bob@x.com") {
		t.Fatal("expected different addresses not to match")
	}
}
