package container

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

var (
	addAppIDPattern      = regexp.MustCompile(`addappid\(\s*(\d+)\s*(?:,\s*\d+\s*,\s*"([0-9a-fA-F]+)"\s*)?\)`)
	setManifestIDPattern = regexp.MustCompile(`setManifestid\(\s*(\d+)\s*,\s*"(\d+)"\s*(?:,\s*\d+\s*)?\)`)
)

// Decode decodes data in the given format.
func Decode(data []byte, format Format) (*Descriptor, error) {
	switch format {
	case FormatText:
		return DecodeText(data)
	case FormatBinary:
		return DecodeBinary(data)
	default:
		return nil, formatErr(ErrUnknownFormat, format.String(), nil)
	}
}

// DecodeFile reads and decodes a container file. The format follows the
// extension; other extensions are sniffed.
func DecodeFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}

	d, err := Decode(data, FormatForPath(path, data))
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Source = path
		}
		return nil, err
	}
	return d, nil
}

// FormatForPath picks the format from the file extension, falling back to
// content sniffing.
func FormatForPath(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return FormatText
	case ".st":
		return FormatBinary
	}
	if utf8.Valid(data) && bytes.Contains(data, []byte("addappid")) {
		return FormatText
	}
	return FormatBinary
}

// Locate finds the container for appID in dirs. {app}.lua is searched in
// every directory before any {app}.st is considered.
func Locate(appID uint32, dirs ...string) (string, Format, error) {
	candidates := []struct {
		ext    string
		format Format
	}{
		{".lua", FormatText},
		{".st", FormatBinary},
	}

	for _, c := range candidates {
		for _, dir := range dirs {
			p := filepath.Join(dir, strconv.FormatUint(uint64(appID), 10)+c.ext)
			if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
				return p, c.format, nil
			}
		}
	}
	return "", FormatUnknown, fmt.Errorf("no %d.lua or %d.st in %s: %w",
		appID, appID, strings.Join(dirs, ", "), fs.ErrNotExist)
}

// DecodeText parses directive text.
//
// addappid(<depot>[, <flag>, "<hexkey>"]) declares a depot and optionally
// its key; a later keyed declaration replaces the key, an unkeyed one
// leaves it alone. setManifestid(<depot>, "<manifest>"[, <size>]) assigns
// the manifest to download.
func DecodeText(text []byte) (*Descriptor, error) {
	if !utf8.Valid(text) {
		return nil, formatErr(ErrGrammar, "text is not valid UTF-8", nil)
	}
	d := newDescriptor()

	for _, m := range addAppIDPattern.FindAllSubmatch(text, -1) {
		depotID, err := parseDepotID(m[1])
		if err != nil {
			return nil, err
		}
		d.declareDepot(depotID)

		if len(m[2]) == 0 {
			continue
		}
		key, err := hex.DecodeString(string(m[2]))
		if err != nil {
			return nil, formatErr(ErrGrammar, fmt.Sprintf("key for depot %d", depotID), err)
		}
		d.Keys[depotID] = key
	}

	for _, m := range setManifestIDPattern.FindAllSubmatch(text, -1) {
		depotID, err := parseDepotID(m[1])
		if err != nil {
			return nil, err
		}
		manifestID, err := strconv.ParseUint(string(m[2]), 10, 64)
		if err != nil {
			return nil, formatErr(ErrGrammar, fmt.Sprintf("manifest id %q", m[2]), err)
		}
		d.assignManifest(depotID, manifestID)
	}

	return d, nil
}

func parseDepotID(raw []byte) (uint32, error) {
	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return 0, formatErr(ErrGrammar, fmt.Sprintf("depot id %q", raw), err)
	}
	return uint32(id), nil
}

// DecodeBinary unwraps a binary container and parses the text inside.
//
// Layout: u32 LE xorkey_raw, u32 LE payload_size, u32 LE verify, then
// payload_size bytes XORed with (xorkey_raw ^ 0xFFFEA4C8) & 0xFF. The
// payload is a zlib stream whose first 512 inflated bytes are discarded.
func DecodeBinary(data []byte) (*Descriptor, error) {
	text, err := UnwrapBinary(data)
	if err != nil {
		return nil, err
	}
	return DecodeText(text)
}

// UnwrapBinary returns the directive text held by a binary container.
func UnwrapBinary(data []byte) ([]byte, error) {
	if len(data) < constants.ContainerHeaderSize {
		return nil, formatErr(ErrHeaderTooShort, fmt.Sprintf("got %d bytes", len(data)), nil)
	}

	xorRaw := binary.LittleEndian.Uint32(data[0:4])
	size := binary.LittleEndian.Uint32(data[4:8])

	body := data[constants.ContainerHeaderSize:]
	if uint64(size) > uint64(len(body)) {
		return nil, formatErr(ErrSizeMismatch, fmt.Sprintf("declared %d, have %d", size, len(body)), nil)
	}

	key := XORKey(xorRaw)
	payload := make([]byte, size)
	for i, b := range body[:size] {
		payload[i] = b ^ key
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, formatErr(ErrDecompress, "", err)
	}
	defer zr.Close()

	inflated, err := io.ReadAll(zr)
	if err != nil {
		return nil, formatErr(ErrDecompress, "", err)
	}

	if len(inflated) < constants.ContainerPreambleSize {
		return nil, formatErr(ErrTruncatedPayload, fmt.Sprintf("inflated %d bytes", len(inflated)), nil)
	}
	return inflated[constants.ContainerPreambleSize:], nil
}

// XORKey derives the payload XOR byte from the header value.
func XORKey(xorRaw uint32) byte {
	return byte((xorRaw ^ constants.ContainerXORMask) & 0xFF)
}

// EncodeBinary wraps directive text into the binary container layout.
// The preamble is zero-filled and the verify field holds the CRC32 of the
// stored payload.
func EncodeBinary(text []byte, xorRaw uint32) ([]byte, error) {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(make([]byte, constants.ContainerPreambleSize)); err != nil {
		return nil, fmt.Errorf("failed to compress preamble: %w", err)
	}
	if _, err := zw.Write(text); err != nil {
		return nil, fmt.Errorf("failed to compress text: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish zlib stream: %w", err)
	}

	key := XORKey(xorRaw)
	payload := compressed.Bytes()
	for i := range payload {
		payload[i] ^= key
	}

	out := make([]byte, constants.ContainerHeaderSize, constants.ContainerHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], xorRaw)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(out[8:12], crc32.ChecksumIEEE(payload))
	return append(out, payload...), nil
}
