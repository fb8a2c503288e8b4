package picobin

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"slices"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func payload() []byte {
	p := make([]byte, 256)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestReadImageDef(t *testing.T) {
	img, err := AppendImageDef(payload())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Read(img); err != nil {
		t.Fatal(err)
	}
}

func TestHashedImageDef(t *testing.T) {
	const addr = 0x10000000
	img, err := AppendHashedImageDef(payload(), addr)
	if err != nil {
		t.Fatal(err)
	}
	inf, err := Read(img)
	if err != nil {
		t.Fatal(err)
	}
	hashData, err := inf.HashData(img, addr)
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256(hashData)
	h, err := inf.Hash(img)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(h, digest[:]) {
		t.Errorf("stored hash %x, computed %x", h, digest)
	}
}

func TestSign(t *testing.T) {
	newKey := bytes.Repeat([]byte{0xde, 0xad}, 32)
	newSig := bytes.Repeat([]byte{0xbe, 0xef}, 32)
	hashed, err := AppendHashedImageDef(payload(), 0x10000000)
	if err != nil {
		t.Fatal(err)
	}
	signed, err := Sign(hashed, newKey, newSig)
	if err != nil {
		t.Fatal(err)
	}
	// Sign once through the HASH_VALUE path, then again through
	// the in-place path of an already signed image.
	for range 2 {
		inf, err := Read(signed)
		if err != nil {
			t.Fatal(err)
		}
		pkey, sig, err := inf.Signature(signed)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(sig, newSig) || !slices.Equal(pkey, newKey) {
			t.Errorf("signature mismatch: got\npublic key: %x\nsignature %x\nexpected\npublic key %x\nsignature %x", pkey, sig, newKey, newSig)
		}
		signed, err = Sign(signed, newKey, newSig)
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestSignImage(t *testing.T) {
	const addr = 0x10000000
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	img, err := AppendHashedImageDef(payload(), addr)
	if err != nil {
		t.Fatal(err)
	}
	signed, err := SignImage(img, key, addr)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyImage(signed, addr); err != nil {
		t.Fatal(err)
	}
	// A flipped payload bit invalidates the signature.
	signed[0] ^= 1
	if err := VerifyImage(signed, addr); err == nil {
		t.Error("tampered image verifies")
	}
	signed[0] ^= 1
	// Re-signing replaces the signature in place.
	key2, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	resigned, err := SignImage(signed, key2, addr)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyImage(resigned, addr); err != nil {
		t.Fatal(err)
	}
	if len(resigned) != len(signed) {
		t.Errorf("re-signed image is %d bytes, want %d", len(resigned), len(signed))
	}
}

func TestMissingItems(t *testing.T) {
	img, err := AppendImageDef(payload())
	if err != nil {
		t.Fatal(err)
	}
	inf, err := Read(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := inf.Hash(img); err == nil {
		t.Error("missing HASH_VALUE not reported")
	}
	if _, _, err := inf.Signature(img); err == nil {
		t.Error("missing SIGNATURE not reported")
	}
	if _, err := inf.HashData(img, 0); err == nil {
		t.Error("missing HASH_DEF not reported")
	}
	if err := VerifyImage(img, 0); err == nil {
		t.Error("unsigned image verifies")
	}
}

func TestReadErrors(t *testing.T) {
	imgs := [][]byte{
		nil,
		make([]byte, 8),
		payload(),
	}
	// A block whose LAST size disagrees with its items.
	bo := binary.LittleEndian
	bad := bo.AppendUint32(nil, header)
	bad = bo.AppendUint32(bad, blockItemImageType|1<<8|imageDefEXESecureRP2350<<16)
	bad = bo.AppendUint32(bad, 0x80|blockItemLast|2<<8)
	bad = bo.AppendUint32(bad, 0)
	bad = bo.AppendUint32(bad, footer)
	imgs = append(imgs, bad)
	// A block cut off before its footer.
	trunc, err := AppendImageDef(nil)
	if err != nil {
		t.Fatal(err)
	}
	imgs = append(imgs, trunc[:len(trunc)-8])
	for _, img := range imgs {
		if _, err := Read(img); err == nil {
			t.Errorf("malformed image %x accepted", img)
		}
	}
}

func TestUnalignedImage(t *testing.T) {
	const addr = 0x10000000
	odd := make([]byte, 1001)
	for i := range odd {
		odd[i] = byte(i)
	}
	img, err := AppendHashedImageDef(odd, addr)
	if err != nil {
		t.Fatal(err)
	}
	inf, err := Read(img)
	if err != nil {
		t.Fatal(err)
	}
	hashData, err := inf.HashData(img, addr)
	if err != nil {
		t.Fatal(err)
	}
	// 1001 bytes padded to 1004, plus the 32 byte block prefix.
	if len(hashData) != 1036 {
		t.Errorf("hashed %d bytes, want 1036", len(hashData))
	}
	digest := sha256.Sum256(hashData)
	h, err := inf.Hash(img)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(h, digest[:]) {
		t.Errorf("stored hash %x, computed %x", h, digest)
	}
	plain, err := AppendImageDef(odd)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Read(plain); err != nil {
		t.Fatal(err)
	}
}

func TestScanWindow(t *testing.T) {
	big := make([]byte, 2*scanWindow)
	if _, err := AppendImageDef(big); err == nil {
		t.Error("block beyond the scan window accepted")
	}
	if _, err := AppendHashedImageDef(big, 0x10000000); err == nil {
		t.Error("hashed block beyond the scan window accepted")
	}
	// The last block start the word stride scan visits.
	edge, err := AppendImageDef(make([]byte, scanWindow-4))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Read(edge); err != nil {
		t.Fatal(err)
	}
	if _, err := AppendImageDef(make([]byte, scanWindow)); err == nil {
		t.Error("block at the scan boundary accepted")
	}
}
