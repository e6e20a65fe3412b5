package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"testing"

	"github.com/docforge/pdfnamer/object"
)

// ownerEntry computes /O the way a writer does (algorithm 3, revision 3).
func ownerEntry(ownerPw, userPw []byte) []byte {
	sum := md5.Sum(pad(ownerPw))
	key := sum[:]
	for i := 0; i < 50; i++ {
		next := md5.Sum(key[:16])
		key = next[:]
	}
	key = key[:16]
	out := pad(userPw)
	for i := 0; i <= 19; i++ {
		step := make([]byte, len(key))
		for j := range key {
			step[j] = key[j] ^ byte(i)
		}
		c, _ := rc4.NewCipher(step)
		c.XORKeyStream(out, out)
	}
	return out
}

// userEntry computes /U (algorithm 5, revision 3).
func userEntry(key, fileID []byte) []byte {
	h := md5.New()
	h.Write(padding)
	h.Write(fileID)
	sum := h.Sum(nil)
	c, _ := rc4.NewCipher(key)
	c.XORKeyStream(sum, sum)
	for i := 1; i <= 19; i++ {
		step := make([]byte, len(key))
		for j := range key {
			step[j] = key[j] ^ byte(i)
		}
		c, _ := rc4.NewCipher(step)
		c.XORKeyStream(sum, sum)
	}
	return append(sum, bytes.Repeat([]byte{0}, 16)...)
}

func legacyDict(ownerPw, userPw, fileID []byte, p int32) *object.Dict {
	o := ownerEntry(ownerPw, userPw)
	key := legacyKey(pad(userPw), o, p, fileID, 16, 3, true)
	d := object.NewDict()
	d.Set("Filter", object.Name("Standard"))
	d.Set("V", object.Integer(2))
	d.Set("R", object.Integer(3))
	d.Set("Length", object.Integer(128))
	d.Set("P", object.Integer(int64(p)))
	d.Set("O", object.String{Data: o})
	d.Set("U", object.String{Data: userEntry(key, fileID)})
	return d
}

func TestEmptyUserPasswordAuthenticates(t *testing.T) {
	fileID := []byte("0123456789abcdef")
	p := int32(-44) // print allowed, copy denied
	d := legacyDict([]byte("owner-secret"), nil, fileID, p)

	h, err := Open(d, object.Ref{Num: 9}, fileID, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	perms := h.Permissions()
	if !perms.Print || perms.Copy {
		t.Fatalf("permissions = %+v", perms)
	}
}

func TestOwnerPasswordGrantsEverything(t *testing.T) {
	fileID := []byte("0123456789abcdef")
	d := legacyDict([]byte("hunter2"), []byte("user-pw"), fileID, -44)

	if _, err := Open(d, object.Ref{}, fileID, ""); err != ErrPasswordRequired {
		t.Fatalf("empty password should be rejected, got %v", err)
	}
	h, err := Open(d, object.Ref{}, fileID, "hunter2")
	if err != nil {
		t.Fatalf("Open with owner password: %v", err)
	}
	if !h.Permissions().Copy {
		t.Fatal("owner should get full permissions")
	}
}

func TestRC4StringRoundTrip(t *testing.T) {
	fileID := []byte("xx")
	d := legacyDict([]byte("o"), nil, fileID, -1)
	h, err := Open(d, object.Ref{}, fileID, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ref := object.Ref{Num: 7, Gen: 0}
	plain := []byte("ACME CORPORATION invoice")
	c, _ := rc4.NewCipher(h.objectKey(ref, false))
	enc := make([]byte, len(plain))
	c.XORKeyStream(enc, plain)

	got, err := h.DecryptString(ref, enc)
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestAESV2StreamRoundTrip(t *testing.T) {
	fileID := []byte("0123456789abcdef")
	o := ownerEntry([]byte("owner"), nil)
	key := legacyKey(pad(nil), o, -1, fileID, 16, 4, true)

	d := object.NewDict()
	d.Set("Filter", object.Name("Standard"))
	d.Set("V", object.Integer(4))
	d.Set("R", object.Integer(4))
	d.Set("Length", object.Integer(128))
	d.Set("P", object.Integer(-1))
	d.Set("O", object.String{Data: o})
	d.Set("U", object.String{Data: userEntry(key, fileID)})
	stdCF := object.NewDict()
	stdCF.Set("CFM", object.Name("AESV2"))
	cf := object.NewDict()
	cf.Set("StdCF", stdCF)
	d.Set("CF", cf)
	d.Set("StmF", object.Name("StdCF"))
	d.Set("StrF", object.Name("StdCF"))

	h, err := Open(d, object.Ref{Num: 8}, fileID, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h.stmMethod != methodAESV2 || h.strMethod != methodAESV2 {
		t.Fatalf("methods = %v/%v", h.stmMethod, h.strMethod)
	}

	// AESV2 uses a per-object key with the sAlT suffix, a leading IV and
	// PKCS#7 padding.
	ref := object.Ref{Num: 4}
	plain := []byte("invoice body")
	padLen := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	iv := bytes.Repeat([]byte{0x42}, 16)
	block, _ := aes.NewCipher(h.objectKey(ref, true))
	enc := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(enc, padded)

	got, err := h.DecryptStream(ref, append(append([]byte(nil), iv...), enc...))
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("stream got %q err=%v", got, err)
	}
	got, err = h.DecryptString(ref, append(append([]byte(nil), iv...), enc...))
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("string got %q err=%v", got, err)
	}
}

func TestAES256EmptyPassword(t *testing.T) {
	fileKey := bytes.Repeat([]byte{0xA5}, 32)
	vSalt := []byte("validate")
	kSalt := []byte("keysalts")

	u := append(hash2B(nil, vSalt, nil, 6), append(vSalt, kSalt...)...)
	ik := hash2B(nil, kSalt, nil, 6)
	block, _ := aes.NewCipher(ik)
	ue := make([]byte, 32)
	cipher.NewCBCEncrypter(block, make([]byte, 16)).CryptBlocks(ue, fileKey)

	d := object.NewDict()
	d.Set("Filter", object.Name("Standard"))
	d.Set("V", object.Integer(5))
	d.Set("R", object.Integer(6))
	d.Set("P", object.Integer(-1))
	d.Set("O", object.String{Data: bytes.Repeat([]byte{0}, 48)})
	d.Set("U", object.String{Data: u})
	d.Set("OE", object.String{Data: bytes.Repeat([]byte{0}, 32)})
	d.Set("UE", object.String{Data: ue})
	stdCF := object.NewDict()
	stdCF.Set("CFM", object.Name("AESV3"))
	cf := object.NewDict()
	cf.Set("StdCF", stdCF)
	d.Set("CF", cf)
	d.Set("StmF", object.Name("StdCF"))
	d.Set("StrF", object.Name("StdCF"))

	h, err := Open(d, object.Ref{}, nil, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(h.key, fileKey) {
		t.Fatal("recovered file key mismatch")
	}

	// AESV3 payloads carry a leading IV and PKCS#7 padding.
	plain := []byte("stream data")
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{5}, 5)...)
	iv := bytes.Repeat([]byte{0x11}, 16)
	blk, _ := aes.NewCipher(fileKey)
	enc := make([]byte, len(padded))
	cipher.NewCBCEncrypter(blk, iv).CryptBlocks(enc, padded)

	got, err := h.DecryptStream(object.Ref{Num: 3}, append(iv, enc...))
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestUnsupportedHandlerRejected(t *testing.T) {
	d := object.NewDict()
	d.Set("Filter", object.Name("CustomDRM"))
	if _, err := Open(d, object.Ref{}, nil, ""); err == nil {
		t.Fatal("expected error")
	}
}
