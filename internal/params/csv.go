package params

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"switchbox/internal/apperrors"
)

// ValidateUpload checks that an uploaded CSV starts with a header row naming
// every declared column. Extra columns are allowed and order is not checked.
func (p *CSVParam) ValidateUpload(name string, r io.Reader) error {
	if len(p.Columns) == 0 {
		return nil
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return apperrors.Validation(name, "csv upload is empty")
	}
	if err != nil {
		return apperrors.Validation(name, fmt.Sprintf("csv upload is malformed: %v", err))
	}

	present := make(map[string]bool, len(header))
	for i, column := range header {
		if i == 0 {
			column = strings.TrimPrefix(column, "\ufeff")
		}
		present[strings.TrimSpace(column)] = true
	}
	var missing []string
	for _, column := range p.Columns {
		if !present[column] {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return apperrors.Validation(name, fmt.Sprintf("csv upload is missing columns: %s", strings.Join(missing, ", ")))
	}
	return nil
}
