// Package geotiff reads and writes multi-band GeoTIFF scenes without cgo.
//
// Only the subset produced by common exporters of gridded satellite products
// is supported: classic (non-Big) TIFF in either byte order, strip or tile
// layout, pixel-interleaved or band-sequential planes, no/LZW/deflate
// compression, horizontal differencing, and 8–64 bit integer or IEEE float
// samples. Only the first IFD is decoded; later IFDs hold overviews.
package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// ErrUnsupported is wrapped into decode errors for valid TIFF features this
// package does not implement.
var ErrUnsupported = errors.New("unsupported tiff feature")

const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagPredictor                 = 317
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagSampleFormat              = 339

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
	tagGDALNoData      = 42113
)

// TIFF compression schemes.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionAdobeDeflate = 8
	compressionDeflate      = 32946
)

const (
	planarChunky   = 1
	planarSeparate = 2

	predictorNone       = 1
	predictorHorizontal = 2

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// GeoKey IDs.
const (
	geoKeyGeographicType  = 2048
	geoKeyProjectedCSType = 3072
	geoKeyUserDefined     = 32767
)

// Field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var fieldSize = map[uint16]uint32{
	dtByte:      1,
	dtASCII:     1,
	dtShort:     2,
	dtLong:      4,
	dtRational:  8,
	dtSByte:     1,
	dtUndefined: 1,
	dtSShort:    2,
	dtSLong:     4,
	dtSRational: 8,
	dtFloat:     4,
	dtDouble:    8,
}

// entry is one decoded IFD field with its value bytes resolved.
type entry struct {
	typ   uint16
	count uint32
	data  []byte
}

// ifd holds the fields of one image file directory.
type ifd struct {
	order  binary.ByteOrder
	fields map[uint16]entry
}

// readHeader parses the 8-byte TIFF header and returns the byte order and
// the offset of the first IFD.
func readHeader(r io.ReaderAt) (binary.ByteOrder, uint32, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}

	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, errors.New("not a tiff file")
	}

	switch magic := order.Uint16(hdr[2:4]); magic {
	case 42:
	case 43:
		return nil, 0, fmt.Errorf("%w: bigtiff", ErrUnsupported)
	default:
		return nil, 0, fmt.Errorf("bad tiff magic %d", magic)
	}
	return order, order.Uint32(hdr[4:8]), nil
}

// readIFD reads the directory at offset and resolves every field's value
// bytes, following offsets for values wider than four bytes.
func readIFD(r io.ReaderAt, order binary.ByteOrder, offset uint32, fileSize int64) (*ifd, error) {
	var countBuf [2]byte
	if _, err := r.ReadAt(countBuf[:], int64(offset)); err != nil {
		return nil, fmt.Errorf("read ifd count: %w", err)
	}
	n := int(order.Uint16(countBuf[:]))

	raw := make([]byte, 12*n)
	if _, err := r.ReadAt(raw, int64(offset)+2); err != nil {
		return nil, fmt.Errorf("read ifd entries: %w", err)
	}

	d := &ifd{order: order, fields: make(map[uint16]entry, n)}
	for i := 0; i < n; i++ {
		e := raw[i*12 : (i+1)*12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])

		size, ok := fieldSize[typ]
		if !ok {
			// Unknown field types are skipped, as readers are required to.
			continue
		}
		total := uint64(size) * uint64(count)
		if total > math.MaxInt32 {
			return nil, fmt.Errorf("tag %d: value too large", tag)
		}
		if fileSize >= 0 && total > 4 && uint64(order.Uint32(e[8:12]))+total > uint64(fileSize) {
			return nil, fmt.Errorf("tag %d: value past end of file", tag)
		}

		var data []byte
		if total <= 4 {
			data = append([]byte(nil), e[8:8+total]...)
		} else {
			data = make([]byte, total)
			if _, err := r.ReadAt(data, int64(order.Uint32(e[8:12]))); err != nil {
				return nil, fmt.Errorf("read tag %d value: %w", tag, err)
			}
		}
		d.fields[tag] = entry{typ: typ, count: count, data: data}
	}
	return d, nil
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.fields[tag]
	return ok
}

// uints returns an integer-typed field as uint64 values.
func (d *ifd) uints(tag uint16) ([]uint64, error) {
	e, ok := d.fields[tag]
	if !ok {
		return nil, nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.data[i])
		case dtShort:
			out[i] = uint64(d.order.Uint16(e.data[i*2:]))
		case dtLong:
			out[i] = uint64(d.order.Uint32(e.data[i*4:]))
		default:
			return nil, fmt.Errorf("tag %d: type %d is not an unsigned integer", tag, e.typ)
		}
	}
	return out, nil
}

// uintOr returns the first value of an integer field, or def when absent.
func (d *ifd) uintOr(tag uint16, def uint64) (uint64, error) {
	v, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

// floats returns a DOUBLE or FLOAT field as float64 values.
func (d *ifd) floats(tag uint16) ([]float64, error) {
	e, ok := d.fields[tag]
	if !ok {
		return nil, nil
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.order.Uint64(e.data[i*8:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(e.data[i*4:])))
		default:
			return nil, fmt.Errorf("tag %d: type %d is not a float", tag, e.typ)
		}
	}
	return out, nil
}

// ascii returns an ASCII field without its NUL terminator.
func (d *ifd) ascii(tag uint16) string {
	e, ok := d.fields[tag]
	if !ok || e.typ != dtASCII {
		return ""
	}
	return strings.TrimRight(string(e.data), "\x00")
}
