package deviceconfig

import (
	"math"

	"github.com/xreal-go/glasses/internal/xrerr"
)

// node is a path-anchored view into a decoded JSON value, used to produce
// SchemaValidationError messages that carry the offending path token
// (e.g. "$.display.left_display.fx"), mirroring a per-row
// anchored CSV validation error style.
type node struct {
	path string
	v    any
}

func rootNode(v any) node {
	return node{path: "$", v: v}
}

func (n node) child(name string) node {
	return node{path: n.path + "." + name, v: nil}
}

func (n node) index(i int) node {
	return node{path: n.path + "[" + itoa(i) + "]", v: nil}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	p := len(buf)
	for i > 0 {
		p--
		buf[p] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		p--
		buf[p] = '-'
	}
	return string(buf[p:])
}

func (n node) object() (map[string]any, error) {
	m, ok := n.v.(map[string]any)
	if !ok {
		return nil, xrerr.SchemaError(n.path, "expected a JSON object, got %T", n.v)
	}
	return m, nil
}

// field looks up key in n (which must be an object) and returns the child
// node anchored at the resulting path.
func (n node) field(key string) (node, error) {
	m, err := n.object()
	if err != nil {
		return node{}, err
	}
	v, ok := m[key]
	if !ok {
		return node{}, xrerr.SchemaError(n.path+"."+key, "missing required field %q", key)
	}
	return node{path: n.path + "." + key, v: v}, nil
}

// optionalField looks up key and reports whether it was present.
func (n node) optionalField(key string) (node, bool, error) {
	m, err := n.object()
	if err != nil {
		return node{}, false, err
	}
	v, ok := m[key]
	if !ok {
		return node{}, false, nil
	}
	return node{path: n.path + "." + key, v: v}, true, nil
}

func (n node) array() ([]any, error) {
	a, ok := n.v.([]any)
	if !ok {
		return nil, xrerr.SchemaError(n.path, "expected a JSON array, got %T", n.v)
	}
	return a, nil
}

func (n node) str() (string, error) {
	s, ok := n.v.(string)
	if !ok {
		return "", xrerr.SchemaError(n.path, "expected a string, got %T", n.v)
	}
	return s, nil
}

// num returns the node's value as a float64, rejecting NaN/Inf. JSON
// numbers decode as float64 when unmarshalled into interface{}, so this is
// also the entry point for integer fields (see intVal).
func (n node) num() (float64, error) {
	f, ok := n.v.(float64)
	if !ok {
		return 0, xrerr.SchemaError(n.path, "expected a number, got %T", n.v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, xrerr.SchemaError(n.path, "numeric field is NaN or Inf")
	}
	return f, nil
}

// intVal requires the node's numeric value to be exactly integral.
func (n node) intVal() (int, error) {
	f, err := n.num()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, xrerr.SchemaError(n.path, "expected an integer value, got %v", f)
	}
	return int(f), nil
}

// vecN requires n to be an array of exactly size finite numbers.
func (n node) vecN(size int) ([]float64, error) {
	arr, err := n.array()
	if err != nil {
		return nil, err
	}
	if len(arr) != size {
		return nil, xrerr.SchemaError(n.path, "expected array of length %d, got %d", size, len(arr))
	}
	out := make([]float64, size)
	for i, elem := range arr {
		f, ok := elem.(float64)
		if !ok {
			return nil, xrerr.SchemaError(n.index(i).path, "expected a number, got %T", elem)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, xrerr.SchemaError(n.index(i).path, "numeric field is NaN or Inf")
		}
		out[i] = f
	}
	return out, nil
}

func (n node) vec2() (Vec2, error) {
	v, err := n.vecN(2)
	if err != nil {
		return Vec2{}, err
	}
	return Vec2{v[0], v[1]}, nil
}

func (n node) vec3() (Vec3, error) {
	v, err := n.vecN(3)
	if err != nil {
		return Vec3{}, err
	}
	return Vec3{v[0], v[1], v[2]}, nil
}

func (n node) vec4() (Vec4, error) {
	v, err := n.vecN(4)
	if err != nil {
		return Vec4{}, err
	}
	return Vec4{v[0], v[1], v[2], v[3]}, nil
}

func (n node) mat3x3() (Mat3x3, error) {
	v, err := n.vecN(9)
	if err != nil {
		return Mat3x3{}, err
	}
	var m Mat3x3
	copy(m[:], v)
	return m, nil
}

func (n node) kc5() ([5]float64, error) {
	v, err := n.vecN(5)
	if err != nil {
		return [5]float64{}, err
	}
	var out [5]float64
	copy(out[:], v)
	return out, nil
}
