package parser

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/md5"
	"crypto/rc4"
	"errors"
	"fmt"
	"testing"

	"github.com/docforge/pdfnamer/object"
)

// docBuilder assembles a well-formed file with a classic table.
type docBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int64
	maxNum  int
}

func newDocBuilder() *docBuilder {
	b := &docBuilder{offsets: map[int]int64{}}
	b.buf.WriteString("%PDF-1.4\n")
	return b
}

func (b *docBuilder) obj(num int, body string) {
	b.offsets[num] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	if num > b.maxNum {
		b.maxNum = num
	}
}

func (b *docBuilder) streamObj(num int, dict string, data []byte) {
	b.offsets[num] = int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nstream\n", num, dict)
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	if num > b.maxNum {
		b.maxNum = num
	}
}

func (b *docBuilder) finish(trailerExtra string) []byte {
	xrefOff := int64(b.buf.Len())
	fmt.Fprintf(&b.buf, "xref\n0 %d\n%010d 65535 f \n", b.maxNum+1, 0)
	for i := 1; i <= b.maxNum; i++ {
		off, ok := b.offsets[i]
		if !ok {
			fmt.Fprintf(&b.buf, "%010d 65535 f \n", 0)
			continue
		}
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R %s >>\nstartxref\n%d\n%%%%EOF\n",
		b.maxNum+1, trailerExtra, xrefOff)
	return b.buf.Bytes()
}

func parseBytes(t *testing.T, data []byte) *object.Document {
	t.Helper()
	doc, err := New(Config{}).Parse(context.Background(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestParseMinimalDocument(t *testing.T) {
	b := newDocBuilder()
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(3, "<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>")
	b.streamObj(4, "<< /Length 24 >>", []byte("BT (hello) Tj ET........"))
	doc := parseBytes(t, b.finish(""))

	if doc.Version != "1.4" {
		t.Fatalf("version = %q", doc.Version)
	}
	cat := doc.Catalog()
	if cat == nil {
		t.Fatal("no catalog")
	}
	if typ, _ := cat.Name("Type"); typ != "Catalog" {
		t.Fatalf("catalog type = %q", typ)
	}
	s := doc.ResolveStream(object.Ref{Num: 4})
	if s == nil || len(s.Data) != 24 {
		t.Fatalf("content stream = %+v", s)
	}
	if !doc.Permissions.Copy {
		t.Fatal("unencrypted file should grant extraction")
	}
}

func TestParseIndirectStreamLength(t *testing.T) {
	b := newDocBuilder()
	b.obj(1, "<< /Type /Catalog >>")
	b.streamObj(2, "<< /Length 3 0 R >>", []byte("abcdefghij"))
	b.obj(3, "10")
	doc := parseBytes(t, b.finish(""))

	s := doc.ResolveStream(object.Ref{Num: 2})
	if s == nil || string(s.Data) != "abcdefghij" {
		t.Fatalf("stream = %+v", s)
	}
}

func TestParseObjectStream(t *testing.T) {
	// Objects 4 and 5 live compressed inside stream 2; located via an
	// additional cross-reference stream section.
	inner := "4 0 5 21 << /Name (inside) >> (second object)"
	first := len("4 0 5 21 ")
	var enc bytes.Buffer
	zw := zlib.NewWriter(&enc)
	zw.Write([]byte(inner))
	zw.Close()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	obj1 := int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Extra 4 0 R >>\nendobj\n")
	obj2 := int64(buf.Len())
	fmt.Fprintf(&buf, "2 0 obj\n<< /Type /ObjStm /N 2 /First %d /Filter /FlateDecode /Length %d >>\nstream\n", first, enc.Len())
	buf.Write(enc.Bytes())
	buf.WriteString("\nendstream\nendobj\n")

	xrefOff := int64(buf.Len())
	row := func(typ byte, mid int64, last byte) []byte {
		return []byte{typ, byte(mid >> 8), byte(mid), last}
	}
	var rows bytes.Buffer
	rows.Write(row(0, 0, 0xFF))
	rows.Write(row(1, obj1, 0))
	rows.Write(row(1, obj2, 0))
	rows.Write(row(1, xrefOff, 0))
	rows.Write(row(2, 2, 0))
	rows.Write(row(2, 2, 1))
	var xenc bytes.Buffer
	zw = zlib.NewWriter(&xenc)
	zw.Write(rows.Bytes())
	zw.Close()
	fmt.Fprintf(&buf, "3 0 obj\n<< /Type /XRef /Size 6 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n", xenc.Len())
	buf.Write(xenc.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOff)

	doc := parseBytes(t, buf.Bytes())
	d := doc.ResolveDict(object.Ref{Num: 4})
	if d == nil {
		t.Fatal("object 4 not loaded from object stream")
	}
	if name, _ := d.Bytes("Name"); string(name) != "inside" {
		t.Fatalf("Name = %q", name)
	}
	s, _ := doc.Resolve(object.Ref{Num: 5}).(object.String)
	if string(s.Data) != "second object" {
		t.Fatalf("object 5 = %q", s.Data)
	}
}

func TestParsePopulatesInfo(t *testing.T) {
	b := newDocBuilder()
	b.obj(1, "<< /Type /Catalog >>")
	b.obj(2, "<< /Title (Quarterly Invoice) /Author <FEFF004A006F> /Keywords (tax, invoice; 2024) >>")
	doc := parseBytes(t, b.finish("/Info 2 0 R"))

	if doc.Info.Title != "Quarterly Invoice" {
		t.Fatalf("title = %q", doc.Info.Title)
	}
	if doc.Info.Author != "Jo" {
		t.Fatalf("author = %q", doc.Info.Author)
	}
	want := []string{"tax", "invoice", "2024"}
	if len(doc.Info.Keywords) != 3 {
		t.Fatalf("keywords = %v", doc.Info.Keywords)
	}
	for i, w := range want {
		if doc.Info.Keywords[i] != w {
			t.Fatalf("keywords = %v", doc.Info.Keywords)
		}
	}
}

func TestParseRepairsMissingXref(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	// No xref, no trailer, no startxref.
	doc := parseBytes(t, buf.Bytes())
	if doc.Catalog() == nil {
		t.Fatal("repair should still find the catalog")
	}
}

// rc4With applies RC4 in one shot.
func rc4With(key, data []byte) []byte {
	c, _ := rc4.NewCipher(key)
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

var stdPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPw(pw []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pw)
	copy(out[n:], stdPad)
	return out
}

// encryptionFixture computes /O, /U and the file key for revision 3 the way
// a writer does, for an empty user password.
func encryptionFixture(ownerPw, fileID []byte, p int32) (o, u, key []byte) {
	sum := md5.Sum(padPw(ownerPw))
	okey := sum[:]
	for i := 0; i < 50; i++ {
		next := md5.Sum(okey[:16])
		okey = next[:]
	}
	o = padPw(nil)
	for i := 0; i <= 19; i++ {
		step := make([]byte, 16)
		for j := range step {
			step[j] = okey[j] ^ byte(i)
		}
		o = rc4With(step, o)
	}

	h := md5.New()
	h.Write(padPw(nil))
	h.Write(o)
	h.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	h.Write(fileID)
	key = h.Sum(nil)
	for i := 0; i < 50; i++ {
		next := md5.Sum(key[:16])
		key = next[:]
	}
	key = key[:16]

	h = md5.New()
	h.Write(stdPad)
	h.Write(fileID)
	u = h.Sum(nil)
	u = rc4With(key, u)
	for i := 1; i <= 19; i++ {
		step := make([]byte, 16)
		for j := range step {
			step[j] = key[j] ^ byte(i)
		}
		u = rc4With(step, u)
	}
	u = append(u, bytes.Repeat([]byte{0}, 16)...)
	return o, u, key
}

func objKey(fileKey []byte, num, gen int) []byte {
	h := md5.New()
	h.Write(fileKey)
	h.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16)})
	h.Write([]byte{byte(gen), byte(gen >> 8)})
	return h.Sum(nil)[:16]
}

func TestParseDecryptsStringsAndStreams(t *testing.T) {
	fileID := []byte("0123456789abcdef")
	p := int32(-1)
	o, u, key := encryptionFixture([]byte("owner-secret"), fileID, p)

	payload := []byte("BT (secret) Tj ET")
	note := []byte("CONFIDENTIAL")
	k3 := objKey(key, 3, 0)
	encPayload := rc4With(k3, payload)
	encNote := rc4With(k3, note)

	b := newDocBuilder()
	b.obj(1, "<< /Type /Catalog >>")
	b.obj(2, fmt.Sprintf("<< /Filter /Standard /V 2 /R 3 /Length 128 /P %d /O <%X> /U <%X> >>", p, o, u))
	b.streamObj(3, fmt.Sprintf("<< /Length %d /Note <%X> >>", len(encPayload), encNote), encPayload)
	data := b.finish(fmt.Sprintf("/Encrypt 2 0 R /ID [<%X> <%X>]", fileID, fileID))

	doc := parseBytes(t, data)
	if !doc.Encrypted {
		t.Fatal("document should be flagged encrypted")
	}
	s := doc.ResolveStream(object.Ref{Num: 3})
	if s == nil {
		t.Fatal("stream not loaded")
	}
	if !bytes.Equal(s.Data, payload) {
		t.Fatalf("stream data = %q", s.Data)
	}
	// String entries inside the stream dictionary decrypt too.
	got, _ := s.Dict.Bytes("Note")
	if !bytes.Equal(got, note) {
		t.Fatalf("dict string = %q", got)
	}
}

func TestParseRejectsWrongPassword(t *testing.T) {
	b := newDocBuilder()
	b.obj(1, "<< /Type /Catalog >>")
	b.obj(2, "<< /Filter /Standard /V 2 /R 3 /Length 128 /P -44 /O (0123456789abcdef0123456789abcdef) /U (0123456789abcdef0123456789abcdef) >>")
	data := b.finish("/Encrypt 2 0 R /ID [(fileid) (fileid)]")

	_, err := New(Config{}).Parse(context.Background(), bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrEncrypted) {
		t.Fatalf("err = %v", err)
	}
}

func TestDecodeTextString(t *testing.T) {
	if got := DecodeTextString([]byte{0xFE, 0xFF, 0x00, 'H', 0x00, 'i'}); got != "Hi" {
		t.Fatalf("utf16 = %q", got)
	}
	if got := DecodeTextString([]byte("plain")); got != "plain" {
		t.Fatalf("latin = %q", got)
	}
	if got := DecodeTextString([]byte{0xE9}); got != "é" {
		t.Fatalf("latin1 high byte = %q", got)
	}
}
