package ddpm

import (
	"fmt"
	"io"

	"github.com/go-gota/gota/dataframe"
)

// Row is the printable form of a Stage.
type Row struct {
	Index      int    `dataframe:"index"`
	Kind       string `dataframe:"kind"`
	Phase      string `dataframe:"phase"`
	Level      int    `dataframe:"level"`
	Resolution int64  `dataframe:"resolution"`
	InCh       int64  `dataframe:"in_ch"`
	OutCh      int64  `dataframe:"out_ch"`
	Skip       string `dataframe:"skip"`
}

// Strings returns the row as table cells.
func (r Row) Strings() []string {
	level := ""
	if r.Level >= 0 {
		level = fmt.Sprint(r.Level)
	}
	res := ""
	if r.Resolution > 0 {
		res = fmt.Sprintf("%dx%d", r.Resolution, r.Resolution)
	}

	return []string{
		fmt.Sprint(r.Index), r.Kind, r.Phase, level, res,
		fmt.Sprint(r.InCh), fmt.Sprint(r.OutCh), r.Skip,
	}
}

// RowHeader names the cells returned by Row.Strings.
var RowHeader = []string{"#", "KIND", "PHASE", "LEVEL", "RESOLUTION", "IN", "OUT", "SKIP"}

// Summarize converts stages into rows.
func Summarize(stages []Stage) []Row {
	rows := make([]Row, len(stages))
	for i, s := range stages {
		rows[i] = Row{
			Index:      i,
			Kind:       s.Kind.String(),
			Phase:      s.Phase.String(),
			Level:      s.Level,
			Resolution: s.Resolution,
			InCh:       s.InCh,
			OutCh:      s.OutCh,
			Skip:       s.Skip.String(),
		}
	}
	return rows
}

// Frame loads the stage summary into a dataframe.
func Frame(stages []Stage) dataframe.DataFrame {
	return dataframe.LoadStructs(Summarize(stages))
}

// WriteCSV writes the stage summary as CSV with a header line.
func WriteCSV(w io.Writer, stages []Stage) error {
	df := Frame(stages)
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

// Summary describes the model's module list.
func (m *Model) Summary() []Row {
	return Summarize(m.Stages())
}
