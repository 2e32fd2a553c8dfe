// Package dataset provides the in-memory tabular representation used by the
// preprocessing and training stages: ordered named columns of equal length,
// each either numeric (missing = NaN) or categorical (missing = empty string).
package dataset

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"
)

// Kind is the storage type of a column.
type Kind int

const (
	// Numeric columns hold float64 values; NaN marks a missing cell.
	Numeric Kind = iota
	// Categorical columns hold strings; the empty string marks a missing cell.
	Categorical
)

func (k Kind) String() string {
	if k == Categorical {
		return "categorical"
	}
	return "numeric"
}

// Column is a named, typed column. Exactly one of Floats or Strings is populated
// according to Kind.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
}

// NewNumericColumn creates a numeric column. The slice is not copied.
func NewNumericColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Floats: values}
}

// NewCategoricalColumn creates a categorical column. The slice is not copied.
func NewCategoricalColumn(name string, values []string) *Column {
	return &Column{Name: name, Kind: Categorical, Strings: values}
}

// Len returns the number of cells.
func (c *Column) Len() int {
	if c.Kind == Categorical {
		return len(c.Strings)
	}
	return len(c.Floats)
}

// IsMissing reports whether cell i is missing.
func (c *Column) IsMissing(i int) bool {
	if c.Kind == Categorical {
		return c.Strings[i] == ""
	}
	return math.IsNaN(c.Floats[i])
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// String renders cell i the way it would be written to CSV.
func (c *Column) String(i int) string {
	if c.Kind == Categorical {
		return c.Strings[i]
	}
	v := c.Floats[i]
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Floats != nil {
		out.Floats = append([]float64(nil), c.Floats...)
	}
	if c.Strings != nil {
		out.Strings = append([]string(nil), c.Strings...)
	}
	return out
}

func (c *Column) selectRows(rows []int) {
	if c.Kind == Categorical {
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = c.Strings[r]
		}
		c.Strings = out
		return
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = c.Floats[r]
	}
	c.Floats = out
}

// Dataset is an ordered collection of equally long columns.
type Dataset struct {
	columns []*Column
	index   map[string]int
}

// New builds a Dataset from columns. Names must be unique and lengths equal.
func New(columns ...*Column) (*Dataset, error) {
	d := &Dataset{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		if err := d.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddColumn appends a column.
func (d *Dataset) AddColumn(c *Column) error {
	if c == nil || c.Name == "" {
		return mlerrors.NewDataError("AddColumn", "", "column must have a name")
	}
	if _, ok := d.index[c.Name]; ok {
		return mlerrors.NewDataError("AddColumn", c.Name, "duplicate column name")
	}
	if len(d.columns) > 0 && c.Len() != d.NRows() {
		return mlerrors.NewDimensionError("AddColumn", d.NRows(), c.Len(), 0)
	}
	d.index[c.Name] = len(d.columns)
	d.columns = append(d.columns, c)
	return nil
}

// ReplaceColumn swaps the column with the same name, keeping its position.
func (d *Dataset) ReplaceColumn(c *Column) error {
	i, ok := d.index[c.Name]
	if !ok {
		return mlerrors.NewColumnNotFoundError("ReplaceColumn", c.Name)
	}
	if c.Len() != d.NRows() {
		return mlerrors.NewDimensionError("ReplaceColumn", d.NRows(), c.Len(), 0)
	}
	d.columns[i] = c
	return nil
}

// NRows returns the number of rows.
func (d *Dataset) NRows() int {
	if len(d.columns) == 0 {
		return 0
	}
	return d.columns[0].Len()
}

// NCols returns the number of columns.
func (d *Dataset) NCols() int {
	return len(d.columns)
}

// Names returns the column names in order.
func (d *Dataset) Names() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column.
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.columns[i], true
}

// Columns returns the columns in order. The slice must not be modified.
func (d *Dataset) Columns() []*Column {
	return d.columns
}

// Missing returns the names among want that are not in the dataset.
func (d *Dataset) Missing(want []string) []string {
	var out []string
	for _, name := range want {
		if _, ok := d.index[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{index: make(map[string]int, len(d.columns)), columns: make([]*Column, len(d.columns))}
	for i, c := range d.columns {
		out.columns[i] = c.clone()
		out.index[c.Name] = i
	}
	return out
}

// SelectRows keeps only the given rows, in the given order.
func (d *Dataset) SelectRows(rows []int) {
	for _, c := range d.columns {
		c.selectRows(rows)
	}
}

// RowKey returns a string identifying the full contents of row i.
// Two rows have equal keys exactly when every cell is equal, with missing cells equal to each other.
func (d *Dataset) RowKey(i int) string {
	var b strings.Builder
	for _, c := range d.columns {
		if c.Kind == Categorical {
			b.WriteByte('s')
			b.WriteString(strconv.Quote(c.Strings[i]))
		} else {
			b.WriteByte('f')
			v := c.Floats[i]
			if math.IsNaN(v) {
				b.WriteString("NaN")
			} else {
				b.WriteString(strconv.FormatUint(math.Float64bits(v+0), 16))
			}
		}
		b.WriteByte(0x1f)
	}
	return b.String()
}

// Matrix returns the named numeric columns as a row-major matrix.
func (d *Dataset) Matrix(names []string) (*mat.Dense, error) {
	if missing := d.Missing(names); len(missing) > 0 {
		return nil, mlerrors.NewColumnNotFoundError("Matrix", missing...)
	}
	n := d.NRows()
	if n == 0 || len(names) == 0 {
		return nil, mlerrors.NewDataError("Matrix", "", "no rows or columns selected")
	}
	out := mat.NewDense(n, len(names), nil)
	for j, name := range names {
		c, _ := d.Column(name)
		if c.Kind != Numeric {
			return nil, mlerrors.NewDataError("Matrix", name, "column is not numeric")
		}
		for i, v := range c.Floats {
			out.Set(i, j, v)
		}
	}
	return out, nil
}

// Vector returns a numeric column as a vector.
func (d *Dataset) Vector(name string) (*mat.VecDense, error) {
	c, ok := d.Column(name)
	if !ok {
		return nil, mlerrors.NewColumnNotFoundError("Vector", name)
	}
	if c.Kind != Numeric {
		return nil, mlerrors.NewDataError("Vector", name, "column is not numeric")
	}
	return mat.NewVecDense(len(c.Floats), append([]float64(nil), c.Floats...)), nil
}

// FromMatrix builds a numeric Dataset from X with the given column names.
func FromMatrix(X mat.Matrix, names []string) (*Dataset, error) {
	r, c := X.Dims()
	if len(names) != c {
		return nil, mlerrors.NewDimensionError("FromMatrix", c, len(names), 1)
	}
	cols := make([]*Column, c)
	for j := 0; j < c; j++ {
		vals := make([]float64, r)
		for i := 0; i < r; i++ {
			vals[i] = X.At(i, j)
		}
		cols[j] = NewNumericColumn(names[j], vals)
	}
	return New(cols...)
}
