// Package security implements the standard security handler. Most documents
// a renamer meets are encrypted with an empty user password, so the default
// flow authenticates silently; files needing a real password surface
// ErrPasswordRequired and are skipped upstream.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/docforge/pdfnamer/object"
)

// ErrPasswordRequired reports that neither the supplied nor the empty
// password authenticated.
var ErrPasswordRequired = errors.New("password required")

type cryptMethod int

const (
	methodRC4 cryptMethod = iota
	methodAESV2
	methodAESV3
	methodIdentity
)

// Handler decrypts strings and streams of one document.
type Handler struct {
	key        []byte
	revision   int
	strMethod  cryptMethod
	stmMethod  cryptMethod
	perms      int32
	ownerAuth  bool
	encryptRef object.Ref
}

// padding is the standard 32-byte password pad.
var padding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// Open authenticates against the /Encrypt dictionary. The supplied password
// is tried as user then owner; an empty string is always tried too.
func Open(encrypt *object.Dict, encryptRef object.Ref, fileID []byte, password string) (*Handler, error) {
	if filter, _ := encrypt.Name("Filter"); filter != "Standard" {
		return nil, fmt.Errorf("unsupported security handler %q", filter)
	}
	v := intEntry(encrypt, "V", 0)
	r := intEntry(encrypt, "R", 0)
	h := &Handler{revision: int(r), encryptRef: encryptRef}

	o, _ := encrypt.Bytes("O")
	u, _ := encrypt.Bytes("U")
	p := int32(intEntry(encrypt, "P", -1))
	h.perms = p

	switch {
	case v <= 2 || (v == 4 && r <= 4):
		keyLen := int(intEntry(encrypt, "Length", 40)) / 8
		if v == 1 {
			keyLen = 5
		}
		if keyLen < 5 || keyLen > 16 {
			return nil, fmt.Errorf("bad key length %d", keyLen*8)
		}
		encMeta := boolEntry(encrypt, "EncryptMetadata", true)
		if err := h.authLegacy(password, o, u, p, fileID, keyLen, encMeta); err != nil {
			return nil, err
		}
		h.strMethod, h.stmMethod = methodRC4, methodRC4
		if v == 4 {
			h.resolveCryptFilters(encrypt)
		}
	case v == 5 && (r == 5 || r == 6):
		oe, _ := encrypt.Bytes("OE")
		ue, _ := encrypt.Bytes("UE")
		if err := h.authAES256(password, o, u, oe, ue); err != nil {
			return nil, err
		}
		h.strMethod, h.stmMethod = methodAESV3, methodAESV3
		h.resolveCryptFilters(encrypt)
	default:
		return nil, fmt.Errorf("unsupported encryption V=%d R=%d", v, r)
	}
	return h, nil
}

// Permissions reports the /P flags granted to the authenticated user.
func (h *Handler) Permissions() object.Permissions {
	if h.ownerAuth {
		return object.AllPermissions()
	}
	return object.PermissionsFromFlags(h.perms)
}

// resolveCryptFilters maps /StmF and /StrF through /CF.
func (h *Handler) resolveCryptFilters(encrypt *object.Dict) {
	cfv, _ := encrypt.Get("CF")
	cf, _ := cfv.(*object.Dict)
	lookup := func(name string, def cryptMethod) cryptMethod {
		if name == "" || name == "Identity" {
			return methodIdentity
		}
		v, ok := cf.Get(name)
		if !ok {
			return def
		}
		d, ok := v.(*object.Dict)
		if !ok {
			return def
		}
		switch m, _ := d.Name("CFM"); m {
		case "V2":
			return methodRC4
		case "AESV2":
			return methodAESV2
		case "AESV3":
			return methodAESV3
		case "None":
			return methodIdentity
		}
		return def
	}
	stmf, _ := encrypt.Name("StmF")
	strf, _ := encrypt.Name("StrF")
	if stmf == "" {
		stmf = "Identity"
	}
	if strf == "" {
		strf = "Identity"
	}
	h.stmMethod = lookup(stmf, h.stmMethod)
	h.strMethod = lookup(strf, h.strMethod)
}

// authLegacy runs algorithms 2, 4/5 and 7 for revisions 2 through 4.
func (h *Handler) authLegacy(password string, o, u []byte, p int32, fileID []byte, keyLen int, encryptMetadata bool) error {
	for _, pw := range candidates(password) {
		key := legacyKey(pad(pw), o, p, fileID, keyLen, h.revision, encryptMetadata)
		if checkUser(key, u, fileID, h.revision) {
			h.key = key
			return nil
		}
	}
	// Owner password: algorithm 7 recovers the user password pad.
	for _, pw := range candidates(password) {
		userPad := recoverUserPad(pad(pw), o, keyLen, h.revision)
		key := legacyKey(userPad, o, p, fileID, keyLen, h.revision, encryptMetadata)
		if checkUser(key, u, fileID, h.revision) {
			h.key = key
			h.ownerAuth = true
			return nil
		}
	}
	return ErrPasswordRequired
}

func candidates(password string) [][]byte {
	if password == "" {
		return [][]byte{nil}
	}
	return [][]byte{[]byte(password), nil}
}

func pad(pw []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pw)
	copy(out[n:], padding)
	return out
}

// legacyKey is algorithm 2.
func legacyKey(paddedPw, o []byte, p int32, fileID []byte, keyLen, revision int, encryptMetadata bool) []byte {
	hsh := md5.New()
	hsh.Write(paddedPw)
	hsh.Write(o[:min(32, len(o))])
	hsh.Write([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
	hsh.Write(fileID)
	if revision >= 4 && !encryptMetadata {
		hsh.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	sum := hsh.Sum(nil)
	if revision >= 3 {
		for i := 0; i < 50; i++ {
			sum2 := md5.Sum(sum[:keyLen])
			sum = sum2[:]
		}
	}
	return append([]byte(nil), sum[:keyLen]...)
}

// checkUser verifies a candidate key against /U (algorithms 4 and 5).
func checkUser(key, u, fileID []byte, revision int) bool {
	if len(u) < 16 {
		return false
	}
	if revision == 2 {
		c, _ := rc4.NewCipher(key)
		got := make([]byte, 32)
		c.XORKeyStream(got, padding)
		return bytes.Equal(got, u[:min(32, len(u))])
	}
	hsh := md5.New()
	hsh.Write(padding)
	hsh.Write(fileID)
	sum := hsh.Sum(nil)
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
	return bytes.Equal(sum, u[:16])
}

// recoverUserPad is algorithm 7's decryption of /O with the owner key.
func recoverUserPad(paddedOwner, o []byte, keyLen, revision int) []byte {
	sum := md5.Sum(paddedOwner)
	key := sum[:]
	if revision >= 3 {
		for i := 0; i < 50; i++ {
			next := md5.Sum(key[:keyLen])
			key = next[:]
		}
	}
	key = key[:keyLen]
	out := append([]byte(nil), o[:min(32, len(o))]...)
	if revision == 2 {
		c, _ := rc4.NewCipher(key)
		c.XORKeyStream(out, out)
		return out
	}
	for i := 19; i >= 0; i-- {
		step := make([]byte, len(key))
		for j := range key {
			step[j] = key[j] ^ byte(i)
		}
		c, _ := rc4.NewCipher(step)
		c.XORKeyStream(out, out)
	}
	return out
}

// authAES256 runs the revision 5/6 authentication (algorithm 2.A).
func (h *Handler) authAES256(password string, o, u, oe, ue []byte) error {
	if len(u) < 48 || len(o) < 48 {
		return errors.New("short /U or /O")
	}
	for _, pwRaw := range candidates(password) {
		pw := truncate127(pwRaw)

		// User password check: hash(pw + validation salt) == U[:32].
		if bytes.Equal(hash2B(pw, u[32:40], nil, h.revision), u[:32]) {
			ik := hash2B(pw, u[40:48], nil, h.revision)
			key, err := aesNoIVDecrypt(ik, ue)
			if err != nil {
				return err
			}
			h.key = key
			return nil
		}
		// Owner password check includes the full U string.
		if bytes.Equal(hash2B(pw, o[32:40], u[:48], h.revision), o[:32]) {
			ik := hash2B(pw, o[40:48], u[:48], h.revision)
			key, err := aesNoIVDecrypt(ik, oe)
			if err != nil {
				return err
			}
			h.key = key
			h.ownerAuth = true
			return nil
		}
	}
	return ErrPasswordRequired
}

func truncate127(pw []byte) []byte {
	if len(pw) > 127 {
		return pw[:127]
	}
	return pw
}

// hash2B is the revision 6 iterated hash; revision 5 is plain SHA-256.
func hash2B(password, salt, userData []byte, revision int) []byte {
	sum := sha256.Sum256(concat(password, salt, userData))
	k := sum[:]
	if revision < 6 {
		return k
	}
	for round := 0; ; round++ {
		k1 := make([]byte, 0, 64*(len(password)+len(k)+len(userData)))
		for i := 0; i < 64; i++ {
			k1 = append(k1, password...)
			k1 = append(k1, k...)
			k1 = append(k1, userData...)
		}
		block, err := aes.NewCipher(k[:16])
		if err != nil {
			return k
		}
		e := make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		mod := 0
		for _, b := range e[:16] {
			mod += int(b)
		}
		switch mod % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		case 2:
			s := sha512.Sum512(e)
			k = s[:]
		}
		if round >= 63 && int(e[len(e)-1]) <= round-32 {
			return k[:32]
		}
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// aesNoIVDecrypt decrypts a 32-byte key blob with a zero IV and no padding.
func aesNoIVDecrypt(key, data []byte) ([]byte, error) {
	if len(data) < 32 {
		return nil, errors.New("short key blob")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 32)
	cipher.NewCBCDecrypter(block, make([]byte, 16)).CryptBlocks(out, data[:32])
	return out, nil
}

// DecryptString decrypts a string object belonging to ref.
func (h *Handler) DecryptString(ref object.Ref, data []byte) ([]byte, error) {
	return h.decrypt(h.strMethod, ref, data)
}

// DecryptStream decrypts a stream payload belonging to ref.
func (h *Handler) DecryptStream(ref object.Ref, data []byte) ([]byte, error) {
	return h.decrypt(h.stmMethod, ref, data)
}

func (h *Handler) decrypt(method cryptMethod, ref object.Ref, data []byte) ([]byte, error) {
	switch method {
	case methodIdentity:
		return data, nil
	case methodRC4:
		c, err := rc4.NewCipher(h.objectKey(ref, false))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(data))
		c.XORKeyStream(out, data)
		return out, nil
	case methodAESV2:
		return aesCBCDecrypt(h.objectKey(ref, true), data)
	case methodAESV3:
		return aesCBCDecrypt(h.key, data)
	default:
		return nil, errors.New("unknown crypt method")
	}
}

// objectKey derives the per-object key (algorithm 1).
func (h *Handler) objectKey(ref object.Ref, aesSalt bool) []byte {
	hsh := md5.New()
	hsh.Write(h.key)
	hsh.Write([]byte{byte(ref.Num), byte(ref.Num >> 8), byte(ref.Num >> 16)})
	hsh.Write([]byte{byte(ref.Gen), byte(ref.Gen >> 8)})
	if aesSalt {
		hsh.Write([]byte{0x73, 0x41, 0x6C, 0x54})
	}
	sum := hsh.Sum(nil)
	n := len(h.key) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

// aesCBCDecrypt strips the leading IV and PKCS#7 padding.
func aesCBCDecrypt(key, data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize || (len(data)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, errors.New("bad AES payload length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(out, data[aes.BlockSize:])
	if len(out) == 0 {
		return out, nil
	}
	padLen := int(out[len(out)-1])
	if padLen > 0 && padLen <= aes.BlockSize && padLen <= len(out) {
		out = out[:len(out)-padLen]
	}
	return out, nil
}

func intEntry(d *object.Dict, key string, def int64) int64 {
	if v, ok := d.Int(key); ok {
		return v
	}
	return def
}

func boolEntry(d *object.Dict, key string, def bool) bool {
	v, ok := d.Get(key)
	if !ok {
		return def
	}
	b, ok := v.(object.Bool)
	if !ok {
		return def
	}
	return bool(b)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
