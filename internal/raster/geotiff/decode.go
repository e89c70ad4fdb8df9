package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/paulmach/orb"
	"golang.org/x/image/tiff/lzw"

	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// Decode limits. Headers past them are rejected before anything is sized
// from them.
const (
	maxDimension = 1 << 20
	maxBands     = 1 << 10
	maxSamples   = 1 << 28
)

// sizer is implemented by bytes.Reader and io.SectionReader.
type sizer interface {
	Size() int64
}

// sizeOf reports the length of r, or -1 when r cannot tell.
func sizeOf(r io.ReaderAt) int64 {
	if s, ok := r.(sizer); ok {
		return s.Size()
	}
	return -1
}

// layout describes how pixel data is chunked on disk.
type layout struct {
	width, height   int
	spp             int // samples per pixel (bands)
	bytesPerSample  int
	dtype           raster.DataType
	planar          int
	compression     int
	predictor       int
	chunkW, chunkH  int
	across, down    int
	offsets, counts []uint64
}

// Decode reads the first image of a GeoTIFF into a scene. Every failure is
// wrapped with raster.ErrSceneUnreadable.
func Decode(r io.ReaderAt, id string) (*raster.Scene, error) {
	scene, err := decode(r, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", raster.ErrSceneUnreadable, id, err)
	}
	return scene, nil
}

// DecodeBytes is Decode over an in-memory file.
func DecodeBytes(b []byte, id string) (*raster.Scene, error) {
	return Decode(bytes.NewReader(b), id)
}

func decode(r io.ReaderAt, id string) (*raster.Scene, error) {
	order, off, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	size := sizeOf(r)
	d, err := readIFD(r, order, off, size)
	if err != nil {
		return nil, err
	}

	l, err := parseLayout(d, size)
	if err != nil {
		return nil, err
	}

	planes := make([][]float64, l.spp)
	for i := range planes {
		planes[i] = make([]float64, l.width*l.height)
	}

	for i := range l.offsets {
		chunk, err := readChunk(r, order, l, i)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		l.place(order, chunk, i, planes)
	}

	meta, err := parseGeo(d, l.width, l.height)
	if err != nil {
		return nil, err
	}
	meta.BandCount = l.spp

	nodata := parseNoData(d.ascii(tagGDALNoData))

	bands := make([]raster.Band, l.spp)
	for i := range bands {
		bands[i] = raster.Band{
			Index:  i + 1,
			Name:   fmt.Sprintf("band_%d", i+1),
			Type:   l.dtype,
			Width:  l.width,
			Height: l.height,
			Data:   planes[i],
			NoData: nodata,
		}
	}
	return &raster.Scene{ID: id, Meta: meta, Bands: bands}, nil
}

// parseLayout validates the image structure. size is the file length, or -1
// when unknown.
func parseLayout(d *ifd, size int64) (*layout, error) {
	width, err := d.uintOr(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.uintOr(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("missing image dimensions")
	}
	if width > maxDimension || height > maxDimension {
		return nil, fmt.Errorf("image dimensions %dx%d exceed %d", width, height, maxDimension)
	}

	spp, err := d.uintOr(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if spp == 0 || spp > maxBands {
		return nil, fmt.Errorf("samples per pixel %d outside [1, %d]", spp, maxBands)
	}
	if width*height*spp > maxSamples {
		return nil, fmt.Errorf("image of %dx%dx%d samples exceeds %d", width, height, spp, maxSamples)
	}
	bps, err := d.uints(tagBitsPerSample)
	if err != nil {
		return nil, err
	}
	if len(bps) == 0 {
		bps = []uint64{1}
	}
	for _, b := range bps[1:] {
		if b != bps[0] {
			return nil, fmt.Errorf("%w: mixed bits per sample %v", ErrUnsupported, bps)
		}
	}

	format, err := d.uintOr(tagSampleFormat, sampleFormatUint)
	if err != nil {
		return nil, err
	}
	dtype, err := dataType(format, bps[0])
	if err != nil {
		return nil, err
	}

	l := &layout{
		width:          int(width),
		height:         int(height),
		spp:            int(spp),
		bytesPerSample: int(bps[0] / 8),
		dtype:          dtype,
	}

	planar, err := d.uintOr(tagPlanarConfiguration, planarChunky)
	if err != nil {
		return nil, err
	}
	compression, err := d.uintOr(tagCompression, compressionNone)
	if err != nil {
		return nil, err
	}
	predictor, err := d.uintOr(tagPredictor, predictorNone)
	if err != nil {
		return nil, err
	}
	l.planar, l.compression, l.predictor = int(planar), int(compression), int(predictor)

	switch l.planar {
	case planarChunky, planarSeparate:
	default:
		return nil, fmt.Errorf("%w: planar configuration %d", ErrUnsupported, l.planar)
	}
	switch l.compression {
	case compressionNone, compressionLZW, compressionAdobeDeflate, compressionDeflate:
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, l.compression)
	}
	switch l.predictor {
	case predictorNone:
	case predictorHorizontal:
		if !dtype.IsInteger() {
			return nil, fmt.Errorf("%w: horizontal predictor on %s samples", ErrUnsupported, dtype)
		}
	default:
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupported, l.predictor)
	}

	if d.has(tagTileWidth) {
		tw, err := d.uintOr(tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := d.uintOr(tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		if tw == 0 || th == 0 || tw > maxDimension || th > maxDimension || tw*th*spp > maxSamples {
			return nil, fmt.Errorf("bad tile size %dx%d", tw, th)
		}
		l.chunkW, l.chunkH = int(tw), int(th)
		if l.offsets, err = d.uints(tagTileOffsets); err != nil {
			return nil, err
		}
		if l.counts, err = d.uints(tagTileByteCounts); err != nil {
			return nil, err
		}
	} else {
		rps, err := d.uintOr(tagRowsPerStrip, height)
		if err != nil {
			return nil, err
		}
		if rps == 0 || rps > height {
			rps = height
		}
		l.chunkW, l.chunkH = int(width), int(rps)
		if l.offsets, err = d.uints(tagStripOffsets); err != nil {
			return nil, err
		}
		if l.counts, err = d.uints(tagStripByteCounts); err != nil {
			return nil, err
		}
	}

	l.across = (l.width + l.chunkW - 1) / l.chunkW
	l.down = (l.height + l.chunkH - 1) / l.chunkH
	want := l.across * l.down
	if l.planar == planarSeparate {
		want *= l.spp
	}
	if len(l.offsets) != want || len(l.counts) != want {
		return nil, fmt.Errorf("expected %d chunks, found %d offsets and %d byte counts", want, len(l.offsets), len(l.counts))
	}

	// Compressed chunks stay within twice their decoded size; LZW on noise
	// grows by at most half.
	limit := uint64(2*l.chunkSamples()*l.bytesPerSample + 1024)
	for i, n := range l.counts {
		if n > limit {
			return nil, fmt.Errorf("chunk %d: byte count %d exceeds %d", i, n, limit)
		}
		if size >= 0 && l.offsets[i]+n > uint64(size) {
			return nil, fmt.Errorf("chunk %d: bytes [%d, %d) past end of file (%d bytes)", i, l.offsets[i], l.offsets[i]+n, size)
		}
	}
	return l, nil
}

func dataType(format, bits uint64) (raster.DataType, error) {
	switch {
	case format == sampleFormatUint && bits == 8:
		return raster.Uint8, nil
	case format == sampleFormatUint && bits == 16:
		return raster.Uint16, nil
	case format == sampleFormatUint && bits == 32:
		return raster.Uint32, nil
	case format == sampleFormatInt && bits == 8:
		return raster.Int8, nil
	case format == sampleFormatInt && bits == 16:
		return raster.Int16, nil
	case format == sampleFormatInt && bits == 32:
		return raster.Int32, nil
	case format == sampleFormatFloat && bits == 32:
		return raster.Float32, nil
	case format == sampleFormatFloat && bits == 64:
		return raster.Float64, nil
	default:
		return 0, fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, format, bits)
	}
}

// chunkSamples is the number of samples stored in one chunk.
func (l *layout) chunkSamples() int {
	n := l.chunkW * l.chunkH
	if l.planar == planarChunky {
		n *= l.spp
	}
	return n
}

// readChunk reads, decompresses, and un-predicts chunk i.
func readChunk(r io.ReaderAt, order binary.ByteOrder, l *layout, i int) ([]byte, error) {
	want := l.chunkSamples() * l.bytesPerSample
	compressed := make([]byte, l.counts[i])
	if _, err := r.ReadAt(compressed, int64(l.offsets[i])); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var raw []byte
	switch l.compression {
	case compressionNone:
		raw = compressed
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(compressed), lzw.MSB, 8)
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, int64(want)))
		if err != nil {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		raw = b
	case compressionAdobeDeflate, compressionDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer zr.Close()
		b, err := io.ReadAll(io.LimitReader(zr, int64(want)))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		raw = b
	}

	// The last strip of an image may be short; tiles are always full size.
	if len(raw) < want {
		padded := make([]byte, want)
		copy(padded, raw)
		raw = padded
	}
	if l.predictor == predictorHorizontal {
		samplesPerRow := l.chunkW
		if l.planar == planarChunky {
			samplesPerRow *= l.spp
		}
		stride := 1
		if l.planar == planarChunky {
			stride = l.spp
		}
		undoHorizontal(raw[:want], order, l.bytesPerSample, samplesPerRow, stride)
	}
	return raw, nil
}

// place copies the decoded samples of chunk i into the band planes.
func (l *layout) place(order binary.ByteOrder, raw []byte, i int, planes [][]float64) {
	plane := 0
	tileIndex := i
	if l.planar == planarSeparate {
		perPlane := l.across * l.down
		plane = i / perPlane
		tileIndex = i % perPlane
	}
	x0 := (tileIndex % l.across) * l.chunkW
	y0 := (tileIndex / l.across) * l.chunkH
	bs := l.bytesPerSample

	for cy := 0; cy < l.chunkH; cy++ {
		y := y0 + cy
		if y >= l.height {
			break
		}
		for cx := 0; cx < l.chunkW; cx++ {
			x := x0 + cx
			if x >= l.width {
				break
			}
			dst := y*l.width + x
			if l.planar == planarSeparate {
				pos := (cy*l.chunkW + cx) * bs
				planes[plane][dst] = sample(order, l.dtype, raw[pos:pos+bs])
				continue
			}
			base := (cy*l.chunkW + cx) * l.spp * bs
			for s := 0; s < l.spp; s++ {
				pos := base + s*bs
				planes[s][dst] = sample(order, l.dtype, raw[pos:pos+bs])
			}
		}
	}
}

func sample(order binary.ByteOrder, t raster.DataType, b []byte) float64 {
	switch t {
	case raster.Uint8:
		return float64(b[0])
	case raster.Int8:
		return float64(int8(b[0]))
	case raster.Uint16:
		return float64(order.Uint16(b))
	case raster.Int16:
		return float64(int16(order.Uint16(b)))
	case raster.Uint32:
		return float64(order.Uint32(b))
	case raster.Int32:
		return float64(int32(order.Uint32(b)))
	case raster.Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case raster.Float64:
		return math.Float64frombits(order.Uint64(b))
	default:
		return math.NaN()
	}
}

// undoHorizontal reverses TIFF predictor 2 in place. The buffer holds rows of
// samplesPerRow samples; each sample is stored as the difference from the
// sample stride positions earlier in the same row. Sums wrap at the sample
// width.
func undoHorizontal(buf []byte, order binary.ByteOrder, bytesPerSample, samplesPerRow, stride int) {
	rowBytes := samplesPerRow * bytesPerSample
	for rowStart := 0; rowStart+rowBytes <= len(buf); rowStart += rowBytes {
		row := buf[rowStart : rowStart+rowBytes]
		for s := stride; s < samplesPerRow; s++ {
			cur := row[s*bytesPerSample : (s+1)*bytesPerSample]
			prev := row[(s-stride)*bytesPerSample : (s-stride+1)*bytesPerSample]
			switch bytesPerSample {
			case 1:
				cur[0] += prev[0]
			case 2:
				order.PutUint16(cur, order.Uint16(cur)+order.Uint16(prev))
			case 4:
				order.PutUint32(cur, order.Uint32(cur)+order.Uint32(prev))
			}
		}
	}
}

func parseGeo(d *ifd, width, height int) (raster.Metadata, error) {
	meta := raster.Metadata{Width: width, Height: height}

	scale, err := d.floats(tagModelPixelScale)
	if err != nil {
		return meta, err
	}
	tie, err := d.floats(tagModelTiepoint)
	if err != nil {
		return meta, err
	}
	if len(scale) >= 2 && len(tie) >= 6 {
		sx, sy := scale[0], scale[1]
		minX := tie[3] - tie[0]*sx
		maxY := tie[4] + tie[1]*sy
		meta.Bounds = orb.Bound{
			Min: orb.Point{minX, maxY - float64(height)*sy},
			Max: orb.Point{minX + float64(width)*sx, maxY},
		}
		meta.PixelSize = [2]float64{sx, sy}
	}

	keys, err := d.uints(tagGeoKeyDirectory)
	if err != nil {
		return meta, err
	}
	meta.CRS = crsFromGeoKeys(keys)
	return meta, nil
}

// crsFromGeoKeys extracts an EPSG code from a GeoKeyDirectory, preferring the
// projected CRS over the geographic one.
func crsFromGeoKeys(keys []uint64) string {
	if len(keys) < 4 {
		return ""
	}
	n := int(keys[3])
	var geographic, projected uint64
	for i := 0; i < n && 4+i*4+3 < len(keys); i++ {
		k := keys[4+i*4 : 4+i*4+4]
		if k[1] != 0 {
			// Value lives in another tag; EPSG codes are always inline.
			continue
		}
		switch k[0] {
		case geoKeyGeographicType:
			geographic = k[3]
		case geoKeyProjectedCSType:
			projected = k[3]
		}
	}
	switch {
	case projected != 0 && projected != geoKeyUserDefined:
		return "EPSG:" + strconv.FormatUint(projected, 10)
	case geographic != 0 && geographic != geoKeyUserDefined:
		return "EPSG:" + strconv.FormatUint(geographic, 10)
	default:
		return ""
	}
}

func parseNoData(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
