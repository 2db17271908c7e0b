// Package npz reads and writes numpy array archives as used for segmentation data sets.
// An archive is a zip file where each member is a serialised array in npy format.
package npz

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var magic = []byte("\x93NUMPY")

// Array holds the shape and data decoded from an npy file. Floating point
// sources are converted to float32 and integer sources to int32.
type Array struct {
	Shape  []int
	Floats []float32
	Ints   []int32
}

// Size returns the total number of elements given by the shape.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func (a *Array) String() string {
	typ := "int32"
	if a.Floats != nil {
		typ = "float32"
	}
	return fmt.Sprintf("%s%v", typ, a.Shape)
}

// ReadArchive decodes all npy members from the zip archive at path.
// Keys in the returned map have the .npy suffix stripped.
func ReadArchive(path string) (map[string]*Array, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrap(err, "npz: open archive")
	}
	defer r.Close()
	arrays := make(map[string]*Array)
	for _, file := range r.File {
		name := strings.TrimSuffix(file.Name, ".npy")
		f, err := file.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "npz: open member %s", file.Name)
		}
		arr, err := Read(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "npz: member %s", file.Name)
		}
		arrays[name] = arr
	}
	return arrays, nil
}

// WriteArchive saves the given arrays as a zip of npy members at path.
func WriteArchive(path string, arrays map[string]*Array) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "npz: create archive")
	}
	defer f.Close()
	w := zip.NewWriter(f)
	for name, arr := range arrays {
		member, err := w.Create(name + ".npy")
		if err != nil {
			return errors.Wrapf(err, "npz: create member %s", name)
		}
		if err := Write(member, arr); err != nil {
			return errors.Wrapf(err, "npz: member %s", name)
		}
	}
	return w.Close()
}

// Read decodes a single array in npy format.
func Read(r io.Reader) (*Array, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	if string(head[:6]) != string(magic) {
		return nil, fmt.Errorf("npy: bad magic %q", head[:6])
	}
	var headerLen int
	switch head[6] {
	case 1:
		buf := make([]byte, 2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		headerLen = int(binary.LittleEndian.Uint16(buf))
	case 2:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		headerLen = int(binary.LittleEndian.Uint32(buf))
	default:
		return nil, fmt.Errorf("npy: unsupported version %d.%d", head[6], head[7])
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	descr, fortran, shape, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("npy: fortran order not supported")
	}
	a := &Array{Shape: shape}
	if err := a.readData(r, descr); err != nil {
		return nil, err
	}
	return a, nil
}

// Write encodes the array in npy format, as <f4 or <i4 little endian C order.
func Write(w io.Writer, a *Array) error {
	if a.Floats != nil && len(a.Floats) != a.Size() {
		return fmt.Errorf("npy: have %d values, shape %v needs %d", len(a.Floats), a.Shape, a.Size())
	}
	if a.Floats == nil && len(a.Ints) != a.Size() {
		return fmt.Errorf("npy: have %d values, shape %v needs %d", len(a.Ints), a.Shape, a.Size())
	}
	descr := "<i4"
	if a.Floats != nil {
		descr = "<f4"
	}
	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(a.Shape) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shape)
	// pad so that data is 64 byte aligned
	pad := 64 - (len(magic)+4+len(header)+1)%64
	header += strings.Repeat(" ", pad) + "\n"
	if _, err := w.Write(magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if a.Floats != nil {
		return binary.Write(w, binary.LittleEndian, a.Floats)
	}
	return binary.Write(w, binary.LittleEndian, a.Ints)
}

func (a *Array) readData(r io.Reader, descr string) error {
	n := a.Size()
	switch descr {
	case "<f4":
		a.Floats = make([]float32, n)
		return binary.Read(r, binary.LittleEndian, a.Floats)
	case "<f8":
		vals := make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
			return err
		}
		a.Floats = make([]float32, n)
		for i, v := range vals {
			a.Floats[i] = float32(v)
		}
	case "<i4":
		a.Ints = make([]int32, n)
		return binary.Read(r, binary.LittleEndian, a.Ints)
	case "<i2":
		vals := make([]int16, n)
		if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
			return err
		}
		a.Ints = make([]int32, n)
		for i, v := range vals {
			a.Ints[i] = int32(v)
		}
	case "<u2":
		vals := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
			return err
		}
		a.Ints = make([]int32, n)
		for i, v := range vals {
			a.Ints[i] = int32(v)
		}
	case "|u1", "<u1":
		vals := make([]uint8, n)
		if _, err := io.ReadFull(r, vals); err != nil {
			return err
		}
		a.Ints = make([]int32, n)
		for i, v := range vals {
			a.Ints[i] = int32(v)
		}
	default:
		return fmt.Errorf("npy: unsupported dtype %s", descr)
	}
	return nil
}

// parse python dict literal from the npy header
func parseHeader(s string) (descr string, fortran bool, shape []int, err error) {
	descr, err = dictValue(s, "descr")
	if err != nil {
		return
	}
	descr = strings.Trim(descr, "'\"")
	var val string
	if val, err = dictValue(s, "fortran_order"); err != nil {
		return
	}
	fortran = val == "True"
	if val, err = dictValue(s, "shape"); err != nil {
		return
	}
	val = strings.Trim(val, "()")
	for _, fld := range strings.Split(val, ",") {
		fld = strings.TrimSpace(fld)
		if fld == "" {
			continue
		}
		var d int
		if d, err = strconv.Atoi(fld); err != nil {
			err = fmt.Errorf("npy: invalid shape %q", val)
			return
		}
		shape = append(shape, d)
	}
	return
}

func dictValue(s, key string) (string, error) {
	ix := strings.Index(s, "'"+key+"'")
	if ix < 0 {
		return "", fmt.Errorf("npy: header missing %s", key)
	}
	s = s[ix+len(key)+2:]
	if ix = strings.Index(s, ":"); ix < 0 {
		return "", fmt.Errorf("npy: malformed header at %s", key)
	}
	s = s[ix+1:]
	var end int
	depth := 0
	for end = 0; end < len(s); end++ {
		if s[end] == '(' {
			depth++
		}
		if s[end] == ')' {
			depth--
		}
		if s[end] == ',' && depth == 0 {
			break
		}
		if s[end] == '}' {
			break
		}
	}
	return strings.TrimSpace(s[:end]), nil
}
