package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dtype is a simple zarr data type, written as a NumPy array protocol type
// string (typestr). The format consists of 3 parts:
//  * One character describing the byteorder of the data:
//    "<": little-endian; ">": big-endian; "|": not-relevant)
//  * One character code giving the basic type of the array:
//    * "b": Boolean (integer type where all values are only True or False)
//    * "i": integer;
//    * "u": unsigned integer
//    * "f": floating point
//    * "c": complex floating point
//    * "m": timedelta;
//    * "M": datetime
//    * "S": string (fixed-length sequence of char)
//    * "U": unicode (fixed-length sequence of Py_UNICODE)
//    * "V": other (void * – each item is a fixed-size chunk of memory))
//  * An integer specifying the number of bytes the type uses.
//
// Within the zarr format byte order MUST be specified. Only boolean, integer,
// unsigned and floating point types can be converted to and from float64
// element values; see Dtype.Numeric.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Float64 is the little-endian 8 byte float type arrays are written with
// unless told otherwise.
var Float64 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 8}

func ParseDtype(s string) (dt Dtype, err error) {
	// some writers HTML escape the byte order when serializing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	sizeStr, unitStr := s, ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, unitStr = s[:i], s[i:]
	}

	size, err := strconv.ParseInt(sizeStr, 10, 0)
	if err != nil {
		return dt, fmt.Errorf("invalid Dtype size %q: %w", sizeStr, err)
	}
	dt.ByteSize = int(size)
	dt.Units = unitStr

	return dt, nil
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += dt.Units
	}
	return s
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return fmt.Errorf("structured dtypes are not supported: %w", err)
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

// Numeric reports whether elements of dt can be converted to float64.
func (dt Dtype) Numeric() bool {
	switch dt.BasicType {
	case BTBoolean:
		return dt.ByteSize == 1
	case BTInteger, BTUnsigned:
		switch dt.ByteSize {
		case 1, 2, 4, 8:
			return true
		}
	case BTFloatingPoint:
		return dt.ByteSize == 4 || dt.ByteSize == 8
	}
	return false
}

func (dt Dtype) order() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Decode converts raw element bytes into float64 values. len(b) must be
// exactly len(out)*ByteSize.
func (dt Dtype) Decode(b []byte, out []float64) error {
	if !dt.Numeric() {
		return fmt.Errorf("unsupported decoding type %s (%s)", dt, dt.BasicType.Human())
	}
	if len(b) != len(out)*dt.ByteSize {
		return fmt.Errorf("chunk holds %d bytes, want %d elements of %d bytes", len(b), len(out), dt.ByteSize)
	}
	bo := dt.order()
	for i := range out {
		el := b[i*dt.ByteSize : (i+1)*dt.ByteSize]
		switch dt.BasicType {
		case BTBoolean, BTUnsigned:
			out[i] = float64(readUint(bo, el))
		case BTInteger:
			u := readUint(bo, el)
			shift := uint(64 - 8*dt.ByteSize)
			out[i] = float64(int64(u<<shift) >> shift)
		case BTFloatingPoint:
			if dt.ByteSize == 4 {
				out[i] = float64(math.Float32frombits(bo.Uint32(el)))
			} else {
				out[i] = math.Float64frombits(bo.Uint64(el))
			}
		}
	}
	return nil
}

// Encode converts float64 values into raw element bytes. Integer types
// truncate toward zero; NaN becomes 0 for integer types.
func (dt Dtype) Encode(vals []float64) ([]byte, error) {
	if !dt.Numeric() {
		return nil, fmt.Errorf("unsupported encoding type %s (%s)", dt, dt.BasicType.Human())
	}
	bo := dt.order()
	b := make([]byte, len(vals)*dt.ByteSize)
	for i, v := range vals {
		el := b[i*dt.ByteSize : (i+1)*dt.ByteSize]
		switch dt.BasicType {
		case BTBoolean:
			if v != 0 && !math.IsNaN(v) {
				el[0] = 1
			}
		case BTUnsigned, BTInteger:
			var u uint64
			if !math.IsNaN(v) {
				if dt.BasicType == BTInteger {
					u = uint64(int64(v))
				} else {
					u = uint64(v)
				}
			}
			writeUint(bo, el, u)
		case BTFloatingPoint:
			if dt.ByteSize == 4 {
				bo.PutUint32(el, math.Float32bits(float32(v)))
			} else {
				bo.PutUint64(el, math.Float64bits(v))
			}
		}
	}
	return b, nil
}

func readUint(bo binary.ByteOrder, b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(bo.Uint16(b))
	case 4:
		return uint64(bo.Uint32(b))
	default:
		return bo.Uint64(b)
	}
}

func writeUint(bo binary.ByteOrder, b []byte, u uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(u)
	case 2:
		bo.PutUint16(b, uint16(u))
	case 4:
		bo.PutUint32(b, uint32(u))
	default:
		bo.PutUint64(b, u)
	}
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timeDelta",
	BTDatetime:      "dateTime",
	BTString:        "string",
	BTUnicode:       "unicode",
	BTOther:         "other",
}
