package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

// ErrCorrupt is wrapped by every parse failure.
var ErrCorrupt = errors.New("corrupt manifest")

var zipMagic = []byte("PK\x03\x04")

// Protobuf field numbers.
const (
	payloadMappings = 1

	mappingFilename    = 1
	mappingSize        = 2
	mappingFlags       = 3
	mappingSHAFilename = 4
	mappingSHAContent  = 5
	mappingChunks      = 6
	mappingLinkTarget  = 7

	chunkSHA            = 1
	chunkCRC            = 2
	chunkOffset         = 3
	chunkOriginalSize   = 4
	chunkCompressedSize = 5

	metaDepotID            = 1
	metaGID                = 2
	metaCreationTime       = 3
	metaFilenamesEncrypted = 4
	metaOriginalSize       = 5
	metaCompressedSize     = 6
	metaUniqueChunks       = 7
	metaCRCEncrypted       = 8
	metaCRCClear           = 9

	signatureBytes = 1
)

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Parse decodes a manifest, unwrapping a zip archive if present.
func Parse(data []byte) (*Manifest, error) {
	if bytes.HasPrefix(data, zipMagic) {
		inner, err := unzipFirst(data)
		if err != nil {
			return nil, err
		}
		data = inner
	}

	m := &Manifest{}
	var sawPayload, sawMetadata bool

	for {
		if len(data) < 4 {
			return nil, corrupt("missing end marker")
		}
		magic := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if magic == constants.ManifestEndMagic {
			break
		}

		if len(data) < 4 {
			return nil, corrupt("section 0x%08x has no length", magic)
		}
		length := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint64(length) > uint64(len(data)) {
			return nil, corrupt("section 0x%08x length %d exceeds remaining %d bytes", magic, length, len(data))
		}
		section := data[:length]
		data = data[length:]

		var err error
		switch magic {
		case constants.ManifestPayloadMagic:
			m.Files, err = parsePayload(section)
			sawPayload = true
		case constants.ManifestMetadataMagic:
			err = parseMetadata(section, m)
			sawMetadata = true
		case constants.ManifestSignatureMagic:
			m.Signature, err = parseSignature(section)
		default:
			return nil, corrupt("unknown section magic 0x%08x", magic)
		}
		if err != nil {
			return nil, err
		}
	}

	if !sawPayload || !sawMetadata {
		return nil, corrupt("payload or metadata section missing")
	}
	return m, nil
}

func unzipFirst(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, corrupt("zip: %v", err)
	}
	if len(zr.File) == 0 {
		return nil, corrupt("zip archive is empty")
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, corrupt("zip: %v", err)
	}
	defer rc.Close()
	inner, err := io.ReadAll(rc)
	if err != nil {
		return nil, corrupt("zip: %v", err)
	}
	return inner, nil
}

// field is one decoded protobuf field. Only the member matching typ is set.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// eachField walks the fields of a message. Group and fixed64 fields are
// skipped.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return corrupt("%v", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return corrupt("field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func parsePayload(b []byte) ([]FileEntry, error) {
	var files []FileEntry
	err := eachField(b, func(f field) error {
		if f.num != payloadMappings || f.typ != protowire.BytesType {
			return nil
		}
		entry, err := parseFileMapping(f.bytes)
		if err != nil {
			return err
		}
		files = append(files, entry)
		return nil
	})
	return files, err
}

func parseFileMapping(b []byte) (FileEntry, error) {
	var e FileEntry
	err := eachField(b, func(f field) error {
		switch {
		case f.typ == protowire.BytesType && f.num == mappingFilename:
			e.Name = string(f.bytes)
		case f.typ == protowire.VarintType && f.num == mappingSize:
			e.Size = f.varint
		case f.typ == protowire.VarintType && f.num == mappingFlags:
			e.Flags = Flags(f.varint)
		case f.typ == protowire.BytesType && f.num == mappingSHAFilename:
			e.SHAFilename = clone(f.bytes)
		case f.typ == protowire.BytesType && f.num == mappingSHAContent:
			e.SHAContent = clone(f.bytes)
		case f.typ == protowire.BytesType && f.num == mappingChunks:
			c, err := parseChunk(f.bytes)
			if err != nil {
				return err
			}
			e.Chunks = append(e.Chunks, c)
		case f.typ == protowire.BytesType && f.num == mappingLinkTarget:
			e.LinkTarget = string(f.bytes)
		}
		return nil
	})
	return e, err
}

func parseChunk(b []byte) (ChunkRef, error) {
	var c ChunkRef
	err := eachField(b, func(f field) error {
		switch {
		case f.typ == protowire.BytesType && f.num == chunkSHA:
			c.SHA = clone(f.bytes)
		case f.typ == protowire.Fixed32Type && f.num == chunkCRC:
			c.CRC = f.fixed32
		case f.typ == protowire.VarintType && f.num == chunkOffset:
			c.Offset = f.varint
		case f.typ == protowire.VarintType && f.num == chunkOriginalSize:
			c.OriginalSize = uint32(f.varint)
		case f.typ == protowire.VarintType && f.num == chunkCompressedSize:
			c.CompressedSize = uint32(f.varint)
		}
		return nil
	})
	return c, err
}

func parseMetadata(b []byte, m *Manifest) error {
	return eachField(b, func(f field) error {
		if f.typ != protowire.VarintType {
			return nil
		}
		switch f.num {
		case metaDepotID:
			m.DepotID = uint32(f.varint)
		case metaGID:
			m.GID = f.varint
		case metaCreationTime:
			m.CreationTime = uint32(f.varint)
		case metaFilenamesEncrypted:
			m.FilenamesEncrypted = f.varint != 0
		case metaOriginalSize:
			m.OriginalSize = f.varint
		case metaCompressedSize:
			m.CompressedSize = f.varint
		case metaUniqueChunks:
			m.UniqueChunks = uint32(f.varint)
		case metaCRCEncrypted:
			m.CRCEncrypted = uint32(f.varint)
		case metaCRCClear:
			m.CRCClear = uint32(f.varint)
		}
		return nil
	})
}

func parseSignature(b []byte) ([]byte, error) {
	var sig []byte
	err := eachField(b, func(f field) error {
		if f.num == signatureBytes && f.typ == protowire.BytesType {
			sig = clone(f.bytes)
		}
		return nil
	})
	return sig, err
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Serialize encodes the manifest. With compress the result is wrapped in
// a zip archive holding a single entry.
func Serialize(m *Manifest, compress bool) ([]byte, error) {
	var out []byte
	out = appendSection(out, constants.ManifestPayloadMagic, encodePayload(m.Files))
	out = appendSection(out, constants.ManifestMetadataMagic, encodeMetadata(m))

	var sig []byte
	if len(m.Signature) > 0 {
		sig = protowire.AppendTag(sig, signatureBytes, protowire.BytesType)
		sig = protowire.AppendBytes(sig, m.Signature)
	}
	out = appendSection(out, constants.ManifestSignatureMagic, sig)
	out = binary.LittleEndian.AppendUint32(out, constants.ManifestEndMagic)

	if !compress {
		return out, nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("z")
	if err != nil {
		return nil, fmt.Errorf("failed to create zip entry: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return nil, fmt.Errorf("failed to write zip entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish zip archive: %w", err)
	}
	return buf.Bytes(), nil
}

func appendSection(out []byte, magic uint32, body []byte) []byte {
	out = binary.LittleEndian.AppendUint32(out, magic)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

func encodePayload(files []FileEntry) []byte {
	var b []byte
	for i := range files {
		b = protowire.AppendTag(b, payloadMappings, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFileMapping(&files[i]))
	}
	return b
}

func encodeFileMapping(e *FileEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, mappingFilename, protowire.BytesType)
	b = protowire.AppendString(b, e.Name)
	b = protowire.AppendTag(b, mappingSize, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Size)
	b = protowire.AppendTag(b, mappingFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Flags))
	if e.SHAFilename != nil {
		b = protowire.AppendTag(b, mappingSHAFilename, protowire.BytesType)
		b = protowire.AppendBytes(b, e.SHAFilename)
	}
	if e.SHAContent != nil {
		b = protowire.AppendTag(b, mappingSHAContent, protowire.BytesType)
		b = protowire.AppendBytes(b, e.SHAContent)
	}
	for _, c := range e.Chunks {
		b = protowire.AppendTag(b, mappingChunks, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeChunk(c))
	}
	if e.LinkTarget != "" {
		b = protowire.AppendTag(b, mappingLinkTarget, protowire.BytesType)
		b = protowire.AppendString(b, e.LinkTarget)
	}
	return b
}

func encodeChunk(c ChunkRef) []byte {
	var b []byte
	b = protowire.AppendTag(b, chunkSHA, protowire.BytesType)
	b = protowire.AppendBytes(b, c.SHA)
	b = protowire.AppendTag(b, chunkCRC, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, c.CRC)
	b = protowire.AppendTag(b, chunkOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, c.Offset)
	b = protowire.AppendTag(b, chunkOriginalSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.OriginalSize))
	b = protowire.AppendTag(b, chunkCompressedSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.CompressedSize))
	return b
}

func encodeMetadata(m *Manifest) []byte {
	var b []byte
	appendVarint := func(num protowire.Number, v uint64) {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	appendVarint(metaDepotID, uint64(m.DepotID))
	appendVarint(metaGID, m.GID)
	appendVarint(metaCreationTime, uint64(m.CreationTime))
	appendVarint(metaFilenamesEncrypted, protowire.EncodeBool(m.FilenamesEncrypted))
	appendVarint(metaOriginalSize, m.OriginalSize)
	appendVarint(metaCompressedSize, m.CompressedSize)
	appendVarint(metaUniqueChunks, uint64(m.UniqueChunks))
	appendVarint(metaCRCEncrypted, uint64(m.CRCEncrypted))
	appendVarint(metaCRCClear, uint64(m.CRCClear))
	return b
}
