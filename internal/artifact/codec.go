package artifact

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arcscope/arcscope/api"
	"github.com/arcscope/arcscope/internal/h5"
	"gonum.org/v1/gonum/mat"
)

// ErrFormat means a stored artifact could not be decoded: wrong magic,
// unknown format version or a record of another kind.
var ErrFormat = errors.New("artifact format")

// Codec turns values of one artifact kind into bytes and back. Every
// encoding carries its own version so files written today stay readable.
type Codec[T any] interface {
	Ext() string
	Marshal(v T) ([]byte, error)
	Unmarshal(b []byte) (T, error)
}

// Embedder is implemented by codecs that have a native HDF5 form. Codecs
// without one are embedded as a byte dataset holding Marshal's output.
type Embedder[T any] interface {
	WriteH5(c *h5.File, p string, v T) error
	ReadH5(c *h5.File, p string) (T, error)
}

const (
	matrixMagic   = "ARCS"
	matrixVersion = 1
	recordFormat  = 1
)

// MatrixCodec stores 2-D float64 images.
//
// File layout: "ARCS", uint16 little-endian version, then the gonum
// mat.Dense binary encoding.
type MatrixCodec struct{}

func (MatrixCodec) Ext() string { return ".arcs" }

func (MatrixCodec) Marshal(m *mat.Dense) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("nil matrix: %w", ErrFormat)
	}
	body, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode matrix: %w", err)
	}
	buf := make([]byte, 0, len(matrixMagic)+2+len(body))
	buf = append(buf, matrixMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, matrixVersion)
	return append(buf, body...), nil
}

func (MatrixCodec) Unmarshal(b []byte) (*mat.Dense, error) {
	if len(b) < len(matrixMagic)+2 || !bytes.HasPrefix(b, []byte(matrixMagic)) {
		return nil, fmt.Errorf("missing %s header: %w", matrixMagic, ErrFormat)
	}
	if v := binary.LittleEndian.Uint16(b[len(matrixMagic):]); v != matrixVersion {
		return nil, fmt.Errorf("matrix version %d: %w", v, ErrFormat)
	}
	var m mat.Dense
	if err := m.UnmarshalBinary(b[len(matrixMagic)+2:]); err != nil {
		return nil, fmt.Errorf("decode matrix: %w: %v", ErrFormat, err)
	}
	return &m, nil
}

func (MatrixCodec) WriteH5(c *h5.File, p string, m *mat.Dense) error {
	return c.WriteMatrix(p, m)
}

func (MatrixCodec) ReadH5(c *h5.File, p string) (*mat.Dense, error) {
	return c.ReadMatrix(p)
}

// envelope wraps every record so the kind and format version travel with
// the data.
type envelope struct {
	Format int             `json:"format"`
	Kind   string          `json:"kind"`
	Data   json.RawMessage `json:"data"`
}

// RecordCodec stores a JSON record of type T under a kind tag. check, when
// set, runs before every write and after every read.
type RecordCodec[T any] struct {
	Kind  string
	check func(T) error
}

// NewRecordCodec returns a codec for kind. A nil check accepts everything.
func NewRecordCodec[T any](kind string, check func(T) error) RecordCodec[T] {
	return RecordCodec[T]{Kind: kind, check: check}
}

func (RecordCodec[T]) Ext() string { return ".json" }

func (c RecordCodec[T]) Marshal(v T) ([]byte, error) {
	if c.check != nil {
		if err := c.check(v); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Kind, err)
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Kind, err)
	}
	return json.MarshalIndent(envelope{Format: recordFormat, Kind: c.Kind, Data: data}, "", "  ")
}

func (c RecordCodec[T]) Unmarshal(b []byte) (T, error) {
	var zero T
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return zero, fmt.Errorf("decode %s: %w: %v", c.Kind, ErrFormat, err)
	}
	if env.Format != recordFormat {
		return zero, fmt.Errorf("%s format %d: %w", c.Kind, env.Format, ErrFormat)
	}
	if env.Kind != c.Kind {
		return zero, fmt.Errorf("record kind %q, want %q: %w", env.Kind, c.Kind, ErrFormat)
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return zero, fmt.Errorf("decode %s: %w: %v", c.Kind, ErrFormat, err)
	}
	if c.check != nil {
		if err := c.check(v); err != nil {
			return zero, fmt.Errorf("%s: %w: %v", c.Kind, ErrFormat, err)
		}
	}
	return v, nil
}

// Codecs for the record kinds.
var (
	GeometryCodec = NewRecordCodec("geometry", func(g api.Geometry) error { return api.Validate(g) })
	ROICodec      = NewRecordCodec("roi_set", func(s api.ROISet) error { return api.Validate(s) })
	FitCodec      = NewRecordCodec("fit", func(f api.FitResult) error { return api.Validate(f) })
	ProfileCodec  = NewRecordCodec("profile", api.ValidateProfile)
)

var (
	_ Codec[*mat.Dense]    = MatrixCodec{}
	_ Embedder[*mat.Dense] = MatrixCodec{}
	_ Codec[api.Geometry]  = GeometryCodec
)
