package centroid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	fitsRecordLen = 80
	fitsBlockLen  = 2880
)

// FitsMetadata holds parsed FITS header key-value pairs.
type FitsMetadata struct {
	Headers map[string]string
}

// NewFitsMetadata creates an empty FitsMetadata.
func NewFitsMetadata() *FitsMetadata {
	return &FitsMetadata{Headers: make(map[string]string)}
}

func (m *FitsMetadata) GetString(key string) string {
	return m.Headers[strings.ToUpper(key)]
}

func (m *FitsMetadata) GetDouble(key string) (float64, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (m *FitsMetadata) GetInt(key string) (int, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

// DateObs parses DATE-OBS, with or without a zone suffix.
func (m *FitsMetadata) DateObs() (time.Time, bool) {
	v := strings.TrimSpace(m.GetString("DATE-OBS"))
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (m *FitsMetadata) CameraName() string { return m.GetString("INSTRUME") }

func (m *FitsMetadata) ImageType() string { return m.GetString("IMAGETYP") }

func (m *FitsMetadata) ExposureTime() (float64, bool) {
	if v, ok := m.GetDouble("EXPTIME"); ok {
		return v, true
	}
	return m.GetDouble("EXPOSURE")
}

// Binning returns XBINNING/YBINNING, defaulting to 1.
func (m *FitsMetadata) Binning() (int, int) {
	bx, ok := m.GetInt("XBINNING")
	if !ok || bx < 1 {
		bx = 1
	}
	by, ok := m.GetInt("YBINNING")
	if !ok || by < 1 {
		by = 1
	}
	return bx, by
}

// FitsFrame is a decoded primary HDU.
type FitsFrame struct {
	Image    Image
	BitPix   int
	Metadata *FitsMetadata
}

// ReadFits reads FITS headers and pixel data from a file.
func ReadFits(filePath string) (*FitsFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return readFitsFromReader(f)
}

// ReadFitsFromBytes reads FITS headers and pixel data from a byte slice.
func ReadFitsFromBytes(data []byte) (*FitsFrame, error) {
	return readFitsFromReader(bytes.NewReader(data))
}

func readFitsFromReader(r io.Reader) (*FitsFrame, error) {
	var bitpix, naxis, width, height int
	bzero := 0.0
	bscale := 1.0
	headerDone := false
	metadata := NewFitsMetadata()

	recordBuf := make([]byte, fitsRecordLen)

	for !headerDone {
		for i := 0; i < fitsBlockLen/fitsRecordLen; i++ {
			if _, err := io.ReadFull(r, recordBuf); err != nil {
				return nil, fmt.Errorf("reading FITS header record: %w", err)
			}
			record := string(recordBuf)
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				headerDone = true
				if remaining := 35 - i; remaining > 0 {
					if _, err := io.CopyN(io.Discard, r, int64(remaining*fitsRecordLen)); err != nil {
						return nil, fmt.Errorf("skipping FITS header padding: %w", err)
					}
				}
				break
			}

			if record[8] != '=' || record[9] != ' ' {
				continue
			}
			rawValue := strings.TrimSpace(strings.SplitN(record[10:], "/", 2)[0])
			if parsed := parseFitsValue(rawValue); keyword != "" && parsed != "" {
				metadata.Headers[strings.ToUpper(keyword)] = parsed
			}

			switch keyword {
			case "BITPIX":
				bitpix, _ = strconv.Atoi(rawValue)
			case "NAXIS":
				naxis, _ = strconv.Atoi(rawValue)
			case "NAXIS1":
				width, _ = strconv.Atoi(rawValue)
			case "NAXIS2":
				height, _ = strconv.Atoi(rawValue)
			case "BZERO":
				bzero, _ = strconv.ParseFloat(rawValue, 64)
			case "BSCALE":
				bscale, _ = strconv.ParseFloat(rawValue, 64)
			}
		}
	}

	if naxis < 2 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid FITS: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", naxis, width, height)
	}

	numPixels := width * height
	img := NewImage(width, height)

	var bytesPerPixel int
	switch bitpix {
	case 8:
		bytesPerPixel = 1
	case 16:
		bytesPerPixel = 2
	case 32, -32:
		bytesPerPixel = 4
	default:
		return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
	}

	rawBytes := make([]byte, numPixels*bytesPerPixel)
	if _, err := io.ReadFull(r, rawBytes); err != nil {
		return nil, fmt.Errorf("reading BITPIX %d pixel data: %w", bitpix, err)
	}

	for i := 0; i < numPixels; i++ {
		var raw float64
		switch bitpix {
		case 8:
			raw = float64(rawBytes[i])
		case 16:
			raw = float64(int16(binary.BigEndian.Uint16(rawBytes[i*2:])))
		case 32:
			raw = float64(int32(binary.BigEndian.Uint32(rawBytes[i*4:])))
		case -32:
			raw = float64(math.Float32frombits(binary.BigEndian.Uint32(rawBytes[i*4:])))
		}
		img.Pix[i] = clampToInt32(math.Round(raw*bscale + bzero))
	}

	return &FitsFrame{Image: img, BitPix: bitpix, Metadata: metadata}, nil
}

// WriteFits stores img as a BITPIX 32 primary HDU. Extra headers are written
// in key order after the mandatory ones.
func WriteFits(w io.Writer, img Image, headers map[string]string) error {
	if err := img.validate(); err != nil {
		return err
	}

	var hdr bytes.Buffer
	writeCard := func(key, value string) {
		fmt.Fprintf(&hdr, "%-80s", fmt.Sprintf("%-8s= %20s", key, value))
	}
	writeCard("SIMPLE", "T")
	writeCard("BITPIX", "32")
	writeCard("NAXIS", "2")
	writeCard("NAXIS1", strconv.Itoa(img.Width))
	writeCard("NAXIS2", strconv.Itoa(img.Height))

	for _, k := range slices.Sorted(maps.Keys(headers)) {
		v := headers[k]
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			v = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		if len(k) > 8 || len(v) > 70 {
			return fmt.Errorf("FITS header %q does not fit a card", k)
		}
		writeCard(strings.ToUpper(k), v)
	}
	fmt.Fprintf(&hdr, "%-80s", "END")
	padTo(&hdr, ' ')

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("writing FITS header: %w", err)
	}

	var data bytes.Buffer
	data.Grow(len(img.Pix) * 4)
	var word [4]byte
	for _, p := range img.Pix {
		binary.BigEndian.PutUint32(word[:], uint32(p))
		data.Write(word[:])
	}
	padTo(&data, 0)
	if _, err := w.Write(data.Bytes()); err != nil {
		return fmt.Errorf("writing FITS data: %w", err)
	}
	return nil
}

func padTo(buf *bytes.Buffer, fill byte) {
	if rem := buf.Len() % fitsBlockLen; rem != 0 {
		buf.Write(bytes.Repeat([]byte{fill}, fitsBlockLen-rem))
	}
}

func clampToInt32(v float64) int32 {
	if v < math.MinInt32 {
		return math.MinInt32
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

func parseFitsValue(rawValue string) string {
	if rawValue == "" {
		return ""
	}
	if rawValue == "T" {
		return "True"
	}
	if rawValue == "F" {
		return "False"
	}
	if strings.HasPrefix(rawValue, "'") {
		endQuote := strings.LastIndex(rawValue, "'")
		if endQuote > 0 {
			return strings.TrimRight(strings.ReplaceAll(rawValue[1:endQuote], "''", "'"), " ")
		}
		return strings.TrimLeft(strings.TrimRight(rawValue, " "), "'")
	}
	return rawValue
}
