package wire

import (
	"errors"
	"strings"
	"testing"
)

func TestAttrRoundTrip(t *testing.T) {
	f := NewFrame("user-join")
	f.SetAttr("name", "alice")
	f.SetUintAttr("id", 7)
	f.SetAttr("name", "bob") // replace, not append

	if got, ok := f.Attr("name"); !ok || got != "bob" {
		t.Fatalf("name = %q, ok = %v", got, ok)
	}
	if v, ok, err := f.UintAttr("id"); err != nil || !ok || v != 7 {
		t.Fatalf("id = %d, ok = %v, err = %v", v, ok, err)
	}
	if len(f.Attrs) != 2 {
		t.Fatalf("expected 2 attrs, got %d", len(f.Attrs))
	}
}

func TestUintAttrMissingAndMalformed(t *testing.T) {
	f := NewFrame("user-join")

	if _, ok, err := f.UintAttr("seq"); ok || err != nil {
		t.Fatalf("missing attr: ok = %v, err = %v", ok, err)
	}

	f.SetAttr("seq", "not-a-number")
	_, _, err := f.UintAttr("seq")
	if !IsCode(err, DomainParse, CodeInvalidNumber) {
		t.Fatalf("expected invalid-number parse error, got %v", err)
	}
}

func TestMarshalParseRoundTrip(t *testing.T) {
	f := NewFrame("sync-begin")
	f.SetUintAttr("num", 2)
	u := f.AddChild("sync-user")
	u.SetAttr("name", "alice <&> o'brien")
	u.SetUintAttr("id", 1)

	data, err := Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	back, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back.Name != "sync-begin" {
		t.Fatalf("root = %q", back.Name)
	}
	child := back.Child("sync-user")
	if child == nil {
		t.Fatal("missing sync-user child")
	}
	if name, _ := child.Attr("name"); name != "alice <&> o'brien" {
		t.Fatalf("name attr did not survive escaping: %q", name)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, data := range []string{"", "not xml", "<a></a><b></b>", "<open>", "<a/>junk"} {
		_, err := Parse([]byte(data))
		if !IsCode(err, DomainParse, CodeMalformedXML) {
			t.Fatalf("Parse(%q) = %v, expected malformed-xml error", data, err)
		}
	}
}

func TestParseToleratesTrailingWhitespace(t *testing.T) {
	f, err := Parse([]byte("<session-close/>\n  "))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Name != "session-close" {
		t.Fatalf("element = %q", f.Name)
	}
}

func TestFailureFrame(t *testing.T) {
	err := Errorf(DomainUser, CodeNameInUse, "name %q already in use", "alice")

	f := FailureFrame(err, "7/3")
	if f.Name != "request-failed" {
		t.Fatalf("element = %q", f.Name)
	}
	if seq, _ := f.Attr("seq"); seq != "7/3" {
		t.Fatalf("seq = %q", seq)
	}

	back := ErrorFromFrame(f)
	if back == nil || back.Domain != DomainUser || back.Code != CodeNameInUse {
		t.Fatalf("round-tripped error = %+v", back)
	}
	if !strings.Contains(back.Message, "alice") {
		t.Fatalf("message lost: %q", back.Message)
	}
}

func TestFailureFrameWrapsPlainErrors(t *testing.T) {
	f := FailureFrame(errors.New("boom"), "")
	back := ErrorFromFrame(f)
	if back.Domain != DomainRequest || back.Code != CodeUnknown || back.Message != "boom" {
		t.Fatalf("plain error mapping = %+v", back)
	}
	if _, ok := f.Attr("seq"); ok {
		t.Fatal("seq must be absent when not derivable")
	}
}
