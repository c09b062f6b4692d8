package session

import (
	"reflect"
	"testing"
)

func TestStore_BeginCreatesEmptySession(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Begin("s1")

	sess, ok := s.Lookup("s1")
	if !ok {
		t.Fatal("Lookup: session not found after Begin")
	}
	if len(sess.Recipients) != 0 {
		t.Errorf("Recipients: got %v, want empty", sess.Recipients)
	}
	if sess.Body.Len() != 0 {
		t.Errorf("Body: got %q, want empty", sess.Body.String())
	}
}

func TestStore_BeginOverwrites(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Begin("s1")
	s.RecordRecipient("s1", "a@example.com")
	sess, _ := s.Lookup("s1")
	sess.AppendLine("Subject: old")

	s.Begin("s1")

	sess, _ = s.Lookup("s1")
	if len(sess.Recipients) != 0 || sess.Body.Len() != 0 {
		t.Errorf("Begin should reset state, got recipients %v body %q", sess.Recipients, sess.Body.String())
	}
}

func TestStore_RecordRecipient(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if s.RecordRecipient("missing", "a@example.com") {
		t.Error("RecordRecipient on unknown session should report false")
	}
	if _, ok := s.Lookup("missing"); ok {
		t.Error("RecordRecipient must not create a session")
	}

	s.Begin("s1")
	for _, addr := range []string{"b@example.com", "a@example.com", "b@example.com"} {
		if !s.RecordRecipient("s1", addr) {
			t.Fatalf("RecordRecipient(%q): got false, want true", addr)
		}
	}

	sess, _ := s.Lookup("s1")
	want := []string{"b@example.com", "a@example.com", "b@example.com"}
	if !reflect.DeepEqual(sess.Recipients, want) {
		t.Errorf("Recipients: got %v, want %v", sess.Recipients, want)
	}
}

func TestStore_End(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.End("never-seen")

	s.Begin("s1")
	s.Begin("s2")
	s.End("s1")

	if _, ok := s.Lookup("s1"); ok {
		t.Error("Lookup: s1 should be gone after End")
	}
	if _, ok := s.Lookup("s2"); !ok {
		t.Error("Lookup: s2 should survive End(s1)")
	}
}

func TestSession_AppendLine(t *testing.T) {
	t.Parallel()

	sess := &Session{}
	sess.AppendLine("From: Alice <alice@example.com>")
	sess.AppendLine("")
	sess.AppendLine("a|b")

	want := "From: Alice <alice@example.com>\n\na|b\n"
	if got := sess.Body.String(); got != want {
		t.Errorf("Body: got %q, want %q", got, want)
	}
}
