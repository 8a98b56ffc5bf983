package format

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/poiesic/verbatim/core"
)

var csvHeader = []string{"quote", "speaker", "location", "demographics", "score"}

// WriteCSV writes verbatims as RFC 4180 CSV with a header row.
func WriteCSV(w io.Writer, verbatims []*core.Verbatim) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, v := range verbatims {
		if v == nil {
			continue
		}
		row := []string{
			v.Quote,
			v.Speaker,
			v.Location.String(),
			v.Demographics.String(),
			strconv.FormatFloat(float64(v.Score), 'f', 3, 32),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export writes the CSV form of verbatims to path, creating parent
// directories. Failures wrap core.ErrIO.
func Export(path string, verbatims []*core.Verbatim) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", core.ErrIO, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrIO, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", core.ErrIO, cerr)
		}
	}()
	if err := WriteCSV(f, verbatims); err != nil {
		return fmt.Errorf("%w: %w", core.ErrIO, err)
	}
	return nil
}

// RenderAndExport renders verbatims in format f and, when path is set, also
// exports them as CSV. The rendered text is returned even if the export fails.
func RenderAndExport(verbatims []*core.Verbatim, f Format, path string) (string, error) {
	out, err := Render(verbatims, f)
	if err != nil {
		return "", err
	}
	if path == "" {
		return out, nil
	}
	return out, Export(path, verbatims)
}
