package pdf

import (
	"testing"
	"time"
)

func TestSerialize(t *testing.T) {
	d := Dict{
		"Type":     Name("Sig"),
		"Filter":   Name("Adobe.PPKLite"),
		"Name":     String("Jane (Doe)"),
		"Rect":     RectArray(0, 0, 10.5, 20),
		"Parent":   Ref{ID: 3},
		"Odd Name": true,
	}
	got := string(Serialize(d))
	want := `<< /Type /Sig /Filter /Adobe.PPKLite /Name (Jane \(Doe\)) /Odd#20Name true /Parent 3 0 R /Rect [0 0 10.5 20] >>`
	if got != want {
		t.Errorf("Serialize:\n got %s\nwant %s", got, want)
	}

	if s := string(Serialize(String{0xfe, 0xff, 0x00, 0x41})); s != "<FEFF0041>" {
		t.Errorf("binary string serialized as %s", s)
	}
}

func TestLexer(t *testing.T) {
	src := []byte(`<< /A [1 2 0 R 3.5 -4] /B (a\)b\051) /C <48656C6C6F> /D << /E null >> % comment
	/F#20G true >>`)
	obj, err := newLexer(src, 0).readObject()
	if err != nil {
		t.Fatal(err)
	}
	d, ok := obj.(Dict)
	if !ok {
		t.Fatalf("got %T", obj)
	}

	arr := d["A"].(Array)
	if len(arr) != 4 || arr[0] != int64(1) || arr[1] != (Ref{ID: 2}) || arr[2] != 3.5 || arr[3] != int64(-4) {
		t.Errorf("A = %#v", arr)
	}
	if string(d["B"].(String)) != "a)b)" {
		t.Errorf("B = %q", d["B"])
	}
	if string(d["C"].(String)) != "Hello" {
		t.Errorf("C = %q", d["C"])
	}
	if inner, ok := d["D"].(Dict); !ok || inner["E"] != nil {
		t.Errorf("D = %#v", d["D"])
	}
	if d["F G"] != true {
		t.Errorf("F G = %#v", d["F G"])
	}
}

func TestDates(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("", 2*3600+30*60))
	s := FormatDate(ts)
	if s != "D:20250304050607+02'30'" {
		t.Fatalf("FormatDate = %s", s)
	}
	back, err := ParseDate(s)
	if err != nil || !back.Equal(ts) {
		t.Errorf("ParseDate(%s) = %v, %v", s, back, err)
	}

	partial, err := ParseDate("D:2024")
	if err != nil || !partial.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ParseDate(D:2024) = %v, %v", partial, err)
	}
}

func TestTextString(t *testing.T) {
	if s := TextString("plain"); string(s) != "plain" {
		t.Errorf("ascii encoded as %q", s)
	}
	enc := TextString("Zoë")
	if enc[0] != 0xfe || enc[1] != 0xff {
		t.Fatalf("expected UTF-16 BOM, got % x", enc)
	}
	if got := DecodeText(enc); got != "Zoë" {
		t.Errorf("round trip = %q", got)
	}
	if got := DecodeText(String{'c', 'a', 'f', 0xe9}); got != "café" {
		t.Errorf("latin-1 = %q", got)
	}
}
