package magnitude

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ReportSchema is the JSON schema of a serialized Report.
//
//go:embed schema/report-schema.json
var ReportSchema []byte

// ErrInvalidReport is returned when a document does not satisfy ReportSchema.
var ErrInvalidReport = errors.New("magnitude: report does not match schema")

// SchemaViolation describes one schema validation failure.
type SchemaViolation struct {
	Field       string
	Description string
}

// ValidateReport checks a JSON document against ReportSchema. It returns the
// violations found, wrapped in ErrInvalidReport when there are any. Other
// errors mean the document could not be parsed.
func ValidateReport(document []byte) ([]SchemaViolation, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(ReportSchema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return nil, fmt.Errorf("validate report: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]SchemaViolation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, SchemaViolation{Field: re.Field(), Description: re.Description()})
	}

	return violations, fmt.Errorf("%w: %d violation(s)", ErrInvalidReport, len(violations))
}
