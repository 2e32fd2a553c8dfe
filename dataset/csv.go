package dataset

import (
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"
)

// missingTokens are the cell values read as missing, matching the pandas defaults
// that matter for hand-written CSVs.
var missingTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
}

func missingTokenList() []string {
	out := make([]string, 0, len(missingTokens))
	for tok := range missingTokens {
		out = append(out, tok)
	}
	return out
}

// IsMissingToken reports whether a raw CSV cell denotes a missing value.
func IsMissingToken(s string) bool {
	_, ok := missingTokens[strings.TrimSpace(s)]
	return ok
}

// LoadCSV reads a CSV file with a header row.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mlerrors.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()

	ds, err := ReadCSV(f)
	if err != nil {
		return nil, mlerrors.Wrapf(err, "read dataset %s", path)
	}
	return ds, nil
}

// ReadCSV parses CSV data with a header row. Every column is read as text first;
// a column becomes numeric when every non-missing cell parses as a float.
func ReadCSV(r io.Reader) (*Dataset, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(missingTokenList()),
	)
	if df.Err != nil {
		return nil, mlerrors.NewDataError("ReadCSV", "", df.Err.Error())
	}
	return fromDataFrame(df)
}

func fromDataFrame(df dataframe.DataFrame) (*Dataset, error) {
	cols := make([]*Column, 0, df.Ncol())
	for _, name := range df.Names() {
		s := df.Col(name)
		records := s.Records()
		nan := s.IsNaN()
		for i := range records {
			if nan[i] || IsMissingToken(records[i]) {
				records[i] = ""
			}
		}
		cols = append(cols, inferColumn(name, records))
	}
	return New(cols...)
}

func inferColumn(name string, records []string) *Column {
	floats := make([]float64, len(records))
	for i, rec := range records {
		if rec == "" {
			floats[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec), 64)
		if err != nil {
			return NewCategoricalColumn(name, records)
		}
		floats[i] = v
	}
	return NewNumericColumn(name, floats)
}

// DataFrame converts the dataset to a gota DataFrame. Missing numeric cells become NaN elements.
// gota renders floats with six decimals, so WriteCSV is not bit-exact.
func (d *Dataset) DataFrame() dataframe.DataFrame {
	ss := make([]series.Series, 0, len(d.columns))
	for _, c := range d.columns {
		if c.Kind == Categorical {
			ss = append(ss, series.New(c.Strings, series.String, c.Name))
		} else {
			ss = append(ss, series.New(c.Floats, series.Float, c.Name))
		}
	}
	return dataframe.New(ss...)
}

// WriteCSV writes the dataset with a header row.
func (d *Dataset) WriteCSV(w io.Writer) error {
	df := d.DataFrame()
	if df.Err != nil {
		return mlerrors.Wrap(df.Err, "build dataframe")
	}
	return mlerrors.Wrap(df.WriteCSV(w), "write csv")
}

// SaveCSV writes the dataset to path.
func (d *Dataset) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return mlerrors.Wrapf(err, "create %s", path)
	}
	if err := d.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return mlerrors.Wrapf(err, "close %s", path)
	}
	return nil
}
