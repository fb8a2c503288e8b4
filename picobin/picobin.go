// Package picobin implements the block format for the
// Raspberry Pi rp2XXX family of microcontrollers.
// The format is described in section 5.9 of the rp2350
// [datasheet].
//
// [datasheet]: https://datasheets.raspberrypi.com/rp2350/rp2350-datasheet.pdf
package picobin

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Image holds the offsets of the metadata items that matter for
// hashing and signing, located by Read.
type Image struct {
	blockStartOffset uint32
	loadMapOffset    uint32
	hashDefOffset    uint32
	hashValueOffset  uint32
	SignatureOffset  uint32
}

type itemHeader struct {
	itype byte
	size  uint16
	data  uint16
}

const (
	header = 0xffffded3
	footer = 0xab123579

	blockItemNextBlockOffset    = 0x41
	blockItemImageType          = 0x42
	blockItemVectorTable        = 0x03
	blockItemEntryPoint         = 0x44
	blockItemRollingWindowDelta = 0x05
	blockItemLoadMap            = 0x06
	blockItemHashDef            = 0x47
	blockItemVersion            = 0x48
	blockItemSignature          = 0x09
	blockItemPartitionTable     = 0x0a
	blockItemHashValue          = 0x4b
	blockItemSalt               = 0x0c
	blockItemIgnored            = 0x7e
	blockItemLast               = 0x7f

	hashSHA256   = 0x01
	sigSecp256k1 = 0x01

	sigSecp256k1Len = 128

	// IMAGE_TYPE flags for an ARM Secure executable on rp2350.
	imageDefEXESecureRP2350 = 0x1021

	// Avoid "lollipop" loops.
	maxLoopLen = 100

	// The boot ROM finds the loop by scanning the first 4 kB of
	// flash at word stride.
	scanWindow = 4096
)

// Read locates the metadata block loop of an image.
func Read(image []byte) (Image, error) {
	img, err := read(image)
	if err != nil {
		return Image{}, fmt.Errorf("picobin: %v", err)
	}
	return img, nil
}

// alignBlock pads image so an appended block starts on a word
// boundary, and checks that the block would still be inside the
// boot ROM scan.
func alignBlock(image []byte) ([]byte, error) {
	for len(image)%4 != 0 {
		image = append(image, 0)
	}
	if start := len(image); start+4 > scanWindow {
		return nil, fmt.Errorf("picobin: a block after %d image bytes is outside the boot ROM's %d byte scan", start, scanWindow)
	}
	return image, nil
}

// AppendImageDef appends the minimal metadata block that marks an
// image as an ARM Secure executable. The rp2350 boot ROM refuses
// images without one. The image is padded to a word boundary
// first; images too large to leave the block inside the boot ROM
// scan window are rejected.
func AppendImageDef(image []byte) ([]byte, error) {
	image, err := alignBlock(image)
	if err != nil {
		return nil, err
	}
	bo := binary.LittleEndian
	image = bo.AppendUint32(image, header)
	image = bo.AppendUint32(image, blockItemImageType|1<<8|imageDefEXESecureRP2350<<16)
	image = bo.AppendUint32(image, 0x80|blockItemLast|1<<8)
	// A single block loops to itself.
	image = bo.AppendUint32(image, 0)
	image = bo.AppendUint32(image, footer)
	return image, nil
}

// AppendHashedImageDef appends a metadata block whose LOAD_MAP
// and HASH_DEF cover the image bytes, with a HASH_VALUE item
// holding their SHA-256 digest. imageAddr is the flash address
// the image starts at. The HASH_VALUE item is last in the block
// so that SignImage can later replace it with a SIGNATURE. Like
// [AppendImageDef], the block must land inside the boot ROM
// scan window.
func AppendHashedImageDef(image []byte, imageAddr uint32) ([]byte, error) {
	image, err := alignBlock(image)
	if err != nil {
		return nil, err
	}
	bo := binary.LittleEndian
	blockStart := uint32(len(image))
	image = bo.AppendUint32(image, header)
	image = bo.AppendUint32(image, blockItemImageType|1<<8|imageDefEXESecureRP2350<<16)
	// A LOAD_MAP with one absolute entry covering the image. The
	// third entry word is the storage end address.
	image = bo.AppendUint32(image, blockItemLoadMap|4<<8|(0x8000|1)<<16)
	image = bo.AppendUint32(image, imageAddr)
	image = bo.AppendUint32(image, imageAddr)
	image = bo.AppendUint32(image, imageAddr+blockStart)
	// The block hash coverage ends with the HASH_DEF item: block
	// header, IMAGE_TYPE, LOAD_MAP and HASH_DEF, 8 words.
	image = bo.AppendUint32(image, blockItemHashDef|2<<8|hashSHA256<<24)
	image = bo.AppendUint32(image, 8)
	// The hashed data is now exactly the image so far: the
	// LOAD_MAP entry covers the payload and the block coverage
	// everything after it.
	digest := sha256.Sum256(image)
	image = bo.AppendUint32(image, blockItemHashValue|9<<8)
	image = append(image, digest[:]...)
	image = bo.AppendUint32(image, 0x80|blockItemLast|16<<8)
	image = bo.AppendUint32(image, 0)
	image = bo.AppendUint32(image, footer)
	return image, nil
}

// Sign image by replacing its HASH_VALUE or SIGNATURE with a SIGNATURE item
// containing the public key and signature.
// Sign assumes that the replaced item is the last item in the
// block with the highest address.
func Sign(image, pubKey, signature []byte) ([]byte, error) {
	inf, err := read(image)
	if err != nil {
		return nil, fmt.Errorf("picobin: %v", err)
	}
	var signed []byte
	switch {
	case inf.hashValueOffset != 0:
		signed, err = inf.signHashed(image, pubKey, signature)
	case inf.SignatureOffset != 0:
		signed, err = inf.resign(image, pubKey, signature)
	default:
		err = errors.New("missing SIGNATURE or HASH_VALUE item")
	}
	if err != nil {
		return nil, fmt.Errorf("picobin: %w", err)
	}
	return signed, nil
}

// SignImage signs an image with a secp256k1 key, replacing its
// HASH_VALUE or previous SIGNATURE item. imageAddr is the flash
// address the image starts at.
func SignImage(image []byte, key *secp256k1.PrivateKey, imageAddr uint32) ([]byte, error) {
	inf, err := read(image)
	if err != nil {
		return nil, fmt.Errorf("picobin: %v", err)
	}
	hashData, err := inf.HashData(image, imageAddr)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(hashData)
	sig := ecdsa.Sign(key, digest[:])
	keyAndSig := make([]byte, sigSecp256k1Len)
	pub := key.PubKey()
	pub.X().FillBytes(keyAndSig[:32])
	pub.Y().FillBytes(keyAndSig[32:64])
	r, s := sig.R(), sig.S()
	rb, sb := r.Bytes(), s.Bytes()
	copy(keyAndSig[64:96], rb[:])
	copy(keyAndSig[96:], sb[:])
	return Sign(image, keyAndSig[:64], keyAndSig[64:])
}

// VerifyImage checks the signature of a signed image against its
// hashed content.
func VerifyImage(image []byte, imageAddr uint32) error {
	inf, err := read(image)
	if err != nil {
		return fmt.Errorf("picobin: %v", err)
	}
	pubKey, sigBytes, err := inf.Signature(image)
	if err != nil {
		return err
	}
	hashData, err := inf.HashData(image, imageAddr)
	if err != nil {
		return err
	}
	pub, err := secp256k1.ParsePubKey(append([]byte{0x04}, pubKey...))
	if err != nil {
		return fmt.Errorf("picobin: invalid public key: %w", err)
	}
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sigBytes[:32]) || s.SetByteSlice(sigBytes[32:]) {
		return errors.New("picobin: invalid signature")
	}
	digest := sha256.Sum256(hashData)
	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], pub) {
		return errors.New("picobin: signature mismatch")
	}
	return nil
}

func (inf *Image) resign(image, pubKey, signature []byte) ([]byte, error) {
	oldKey, oldSig, err := inf.Signature(image)
	if err != nil {
		return nil, err
	}
	if len(oldKey) != len(pubKey) || len(oldSig) != len(signature) {
		return nil, errors.New("incompatible signature")
	}
	signed := append([]byte{}, image...)
	sigOff := inf.SignatureOffset
	copy(signed[sigOff:], pubKey)
	copy(signed[sigOff+uint32(len(pubKey)):], signature)
	return signed, nil
}

func (inf *Image) signHashed(image, pubKey, signature []byte) ([]byte, error) {
	imgHash, err := inf.Hash(image)
	if err != nil {
		return nil, err
	}
	hashItemSize := 4 + len(imgHash)
	lastItem := inf.hashValueOffset + uint32(hashItemSize)
	last := readItemHeader(image[lastItem:])
	if last.itype != blockItemLast {
		return nil, errors.New("HASH_VALUE is not last in block")
	}
	// Read block link.
	link, err := readFooter(image[lastItem+4:])
	if err != nil {
		return nil, err
	}
	// Write image up to just before the HASH_VALUE item.
	signed := append([]byte{}, image[:inf.hashValueOffset]...)
	bo := binary.LittleEndian
	// Write a SIGNATURE item.
	sigItemSize := 4 + len(pubKey) + len(signature)
	header := uint32(blockItemSignature) | // SIGNATURE item.
		uint32(sigItemSize/4)<<8 | // Size in words.
		sigSecp256k1<<24 // Algorithm.
	signed = bo.AppendUint32(signed, header)
	signed = append(signed, pubKey...)
	signed = append(signed, signature...)
	// Adjust size because of expanded item.
	sizeAdj := uint32(sigItemSize - hashItemSize)
	// Add footer.
	header = 0x80 | uint32(blockItemLast) | // LAST_ITEM with 2-byte size.
		(uint32(last.size)+sizeAdj/4)<<8
	signed = bo.AppendUint32(signed, header)
	signed = bo.AppendUint32(signed, link)
	signed = bo.AppendUint32(signed, footer)
	return signed, nil
}

func read(data []byte) (Image, error) {
	bo := binary.LittleEndian
	idx := uint32(0)
	// Scan the ROM window for the first block header.
	for {
		if int(idx)+4 > len(data) || idx == scanWindow {
			return Image{}, errors.New("missing block header")
		}
		if bo.Uint32(data[idx:]) == header {
			break
		}
		idx += 4
	}
	firstBlock := idx
	hidx := idx
	nblocks := 0
	var img Image
	for {
		if int(idx)+4 > len(data) {
			return Image{}, errors.New("truncated block")
		}
		h := bo.Uint32(data[idx:])
		if h != header {
			return Image{}, errors.New("missing block header")
		}
		img.blockStartOffset = idx
		idx += 4
		totalSize := uint(0)
		// Scan items.
		for {
			if int(idx)+4 > len(data) {
				return Image{}, errors.New("truncated block")
			}
			h := readItemHeader(data[idx:])
			if h.size == 0 {
				return Image{}, errors.New("zero-sized block item")
			}
			if h.itype == blockItemLast {
				if totalSize != uint(h.size) {
					return Image{}, errors.New("mismatched total item size")
				}
				break
			}
			totalSize += uint(h.size)
			switch h.itype {
			case blockItemLoadMap:
				img.loadMapOffset = idx
				img.hashDefOffset = 0
				img.SignatureOffset = 0
				img.hashValueOffset = 0
			case blockItemHashDef:
				img.hashDefOffset = idx
				img.SignatureOffset = 0
				img.hashValueOffset = 0
			case blockItemHashValue:
				img.hashValueOffset = idx
			case blockItemSignature:
				if int(h.size) != 32+1 {
					return Image{}, errors.New("invalid SIGNATURE item size")
				}
				img.SignatureOffset = idx + 4
			}
			idx += uint32(h.size) * 4
		}
		// Verify footer and jump to next block in loop.
		if int(idx)+12 > len(data) {
			return Image{}, errors.New("truncated block")
		}
		link, err := readFooter(data[idx+4:])
		if err != nil {
			return Image{}, err
		}
		nblocks++
		if nblocks == maxLoopLen {
			return Image{}, errors.New("block loop too long")
		}
		hidx += link
		if hidx == firstBlock {
			break
		}
		idx = hidx
	}
	return img, nil
}

// Signature returns the public key and signature of a signed
// image.
func (in *Image) Signature(image []byte) (pubKey []byte, sig []byte, err error) {
	if in.SignatureOffset == 0 {
		return nil, nil, errors.New("picobin: missing SIGNATURE item")
	}
	off := in.SignatureOffset
	h := readItemHeader(image[off-4:])
	if h.itype != blockItemSignature {
		return nil, nil, errors.New("picobin: missing SIGNATURE item")
	}
	pubKey = image[off : off+64]
	sig = image[off+64 : off+sigSecp256k1Len]
	return pubKey, sig, nil
}

// Hash returns the HASH_VALUE digest stored in an image.
func (in *Image) Hash(img []byte) ([]byte, error) {
	if in.hashValueOffset == 0 {
		return nil, errors.New("picobin: missing HASH_VALUE item")
	}
	h := readItemHeader(img[in.hashValueOffset:])
	if h.itype != blockItemHashValue {
		return nil, errors.New("picobin: missing HASH_VALUE item")
	}
	return img[in.hashValueOffset+4 : in.hashValueOffset+uint32(h.size)*4], nil
}

// HashData returns the bytes covered by the image hash: the
// LOAD_MAP storage ranges followed by the hashed prefix of the
// metadata block.
func (in *Image) HashData(img []byte, imageAddr uint32) ([]byte, error) {
	if in.hashDefOffset == 0 {
		return nil, errors.New("picobin: missing HASH_DEF item")
	}
	// Read HASH_DEF item.
	h := readItemHeader(img[in.hashDefOffset:])
	if h.itype != blockItemHashDef {
		return nil, errors.New("picobin: missing HASH_DEF item")
	}
	if a := h.data >> 8; a != hashSHA256 {
		return nil, errors.New("unknown HASH_DEF hash algorithm")
	}
	bo := binary.LittleEndian
	// Read number of block bytes to hash.
	blockHashed := 4 * (bo.Uint32(img[in.hashDefOffset+4:]) & 0xffff)
	var hashData []byte
	// Read LOAD_MAP item.
	if in.loadMapOffset == 0 {
		return nil, errors.New("picobin: missing LOAD_MAP item")
	}
	h = readItemHeader(img[in.loadMapOffset:])
	if h.itype != blockItemLoadMap {
		return nil, errors.New("picobin: missing LOAD_MAP item")
	}
	// Read LOAD_MAP entries.
	nentries := (h.size - 1) / 3
	absolute := h.data&0x8000 != 0
	eidx := in.loadMapOffset + 4
	for i := range uint32(nentries) {
		storageStart := bo.Uint32(img[eidx+i*12+0:])
		size := bo.Uint32(img[eidx+i*12+8:])
		if storageStart == 0 {
			// The size itself is hashed, not the storage.
			hashData = append(hashData, img[eidx+8:eidx+12]...)
			continue
		}
		if absolute {
			size -= storageStart
			storageStart -= imageAddr
		} else {
			storageStart += in.loadMapOffset
		}
		if int64(storageStart)+int64(size) > int64(len(img)) {
			return nil, errors.New("picobin: LOAD_MAP entry out of range")
		}
		hashData = append(hashData, img[storageStart:storageStart+size]...)
	}
	// Hash block.
	if int64(in.blockStartOffset)+int64(blockHashed) > int64(len(img)) {
		return nil, errors.New("picobin: HASH_DEF coverage out of range")
	}
	blockHashData := img[in.blockStartOffset : in.blockStartOffset+blockHashed]
	hashData = append(hashData, blockHashData...)
	return hashData, nil
}

func readFooter(img []byte) (uint32, error) {
	bo := binary.LittleEndian
	link, f := bo.Uint32(img), bo.Uint32(img[4:])
	if f != footer {
		return 0, errors.New("missing block footer")
	}
	return link, nil
}

func readItemHeader(img []byte) itemHeader {
	bo := binary.LittleEndian
	w := bo.Uint32(img)
	typeAndSize := byte(w)
	sflag := typeAndSize & 0x80
	h := itemHeader{
		itype: typeAndSize & 0x7f,
		size:  uint16((w >> 8) & 0xff),
		data:  uint16(w >> 16),
	}
	if sflag != 0 {
		// 2-byte size.
		h.size |= uint16((w >> 8) & 0xff00)
	}
	return h
}
