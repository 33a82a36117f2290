package dbtypes

import "testing"

func TestJSONTextRoundTrip(t *testing.T) {
	doc, err := NewJSONText(map[string]string{"type": "image_generation"})
	if err != nil {
		t.Fatalf("new json text: %v", err)
	}
	value, err := doc.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != `{"type":"image_generation"}` {
		t.Fatalf("unexpected value %v", value)
	}

	var scanned JSONText
	if err := scanned.Scan([]byte(`{"type":"image_generation"}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	var decoded map[string]string
	if err := scanned.Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["type"] != "image_generation" {
		t.Fatalf("unexpected decoded %v", decoded)
	}
}

func TestJSONTextNulls(t *testing.T) {
	var empty JSONText
	if v, err := empty.Value(); err != nil || v != nil {
		t.Fatalf("expected nil value, got %v %v", v, err)
	}
	if err := empty.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	out, _ := empty.MarshalJSON()
	if string(out) != "null" {
		t.Fatalf("expected null, got %s", out)
	}
	if err := empty.Scan("not json"); err == nil {
		t.Fatal("expected invalid json to fail")
	}
}
