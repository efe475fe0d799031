package normalizer

import (
	"fmt"
	"strings"

	"assistant-dispatch-service/internal/models"
)

// Result keys recognized on a handler's mapping result.
const (
	KeyStatus     = "status"
	KeyOutputs    = "outputs"
	KeyOutputFile = "output_file"
	KeyOutput     = "output"
	KeyError      = "error"
)

// Shape tags the variant a raw handler result was recognized as.
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeOutputs
	ShapeSingleOutput
	ShapeUnrecognized
)

func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeOutputs:
		return "outputs"
	case ShapeSingleOutput:
		return "single_output"
	case ShapeUnrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Result is the canonical form of a handler result.
type Result struct {
	Shape   Shape
	Outputs []string
	Status  models.Status
	// Reported carries the handler's own error text when it returned a
	// failure-shaped result.
	Reported string
	Metadata map[string]interface{}
}

// Normalize converts a raw handler result. It never panics; shapes it cannot
// interpret yield no outputs, a PartialFailure status and the payload under
// metadata.raw_result.
func Normalize(raw interface{}) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = unrecognized(raw)
			res.Metadata["normalize_error"] = fmt.Sprint(r)
		}
	}()

	switch v := raw.(type) {
	case nil:
		return Result{Shape: ShapeEmpty, Status: models.StatusSuccess, Metadata: map[string]interface{}{}}
	case string:
		if strings.TrimSpace(v) != "" {
			return Result{Shape: ShapeSingleOutput, Outputs: []string{v}, Status: models.StatusSuccess, Metadata: map[string]interface{}{}}
		}
		return Result{Shape: ShapeEmpty, Status: models.StatusSuccess, Metadata: map[string]interface{}{}}
	case models.TaskConfig:
		return fromMap(v)
	case map[string]interface{}:
		return fromMap(v)
	case map[string]string:
		m := make(map[string]interface{}, len(v))
		for k, s := range v {
			m[k] = s
		}
		return fromMap(m)
	default:
		return unrecognized(raw)
	}
}

func fromMap(m map[string]interface{}) Result {
	res := Result{Status: models.StatusSuccess, Metadata: map[string]interface{}{}}

	rawStatus, hasStatus := m[KeyStatus].(string)
	if hasStatus {
		res.Status = MapStatus(rawStatus)
		res.Metadata["handler_status"] = rawStatus
	}
	if res.Status == models.StatusFailed {
		res.Reported = reportedError(m, rawStatus)
	}

	shape, outputs, dropped := extractOutputs(m)
	res.Shape, res.Outputs = shape, outputs
	if dropped > 0 {
		res.Metadata["dropped_outputs"] = dropped
	}

	if shape == ShapeEmpty && !hasStatus {
		return unrecognized(m)
	}

	details := map[string]interface{}{}
	for k, v := range m {
		switch k {
		case KeyStatus, KeyOutputs, KeyOutputFile, KeyOutput, KeyError:
		default:
			details[k] = v
		}
	}
	if len(details) > 0 {
		res.Metadata["details"] = details
	}
	return res
}

// extractOutputs applies the outputs > output_file > output precedence.
// Blank paths are dropped; the rest are kept exactly as the handler wrote them.
func extractOutputs(m map[string]interface{}) (Shape, []string, int) {
	if v, ok := m[KeyOutputs]; ok && v != nil {
		switch list := v.(type) {
		case []string:
			return ShapeOutputs, nonBlank(list), 0
		case []interface{}:
			out := make([]string, 0, len(list))
			dropped := 0
			for _, item := range list {
				s, ok := item.(string)
				if !ok || strings.TrimSpace(s) == "" {
					dropped++
					continue
				}
				out = append(out, s)
			}
			return ShapeOutputs, out, dropped
		case string:
			if strings.TrimSpace(list) != "" {
				return ShapeSingleOutput, []string{list}, 0
			}
		}
	}
	for _, key := range []string{KeyOutputFile, KeyOutput} {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return ShapeSingleOutput, []string{s}, 0
		}
	}
	return ShapeEmpty, nil, 0
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func reportedError(m map[string]interface{}, status string) string {
	switch e := m[KeyError].(type) {
	case string:
		if e != "" {
			return e
		}
	case nil:
	default:
		return fmt.Sprint(e)
	}
	if status != "" {
		return "handler reported status " + status
	}
	return "handler reported failure"
}

func unrecognized(raw interface{}) Result {
	return Result{
		Shape:    ShapeUnrecognized,
		Status:   models.StatusPartialFailure,
		Metadata: map[string]interface{}{"raw_result": raw},
	}
}

var statusSeparators = strings.NewReplacer(" ", "", "_", "", "-", "")

// MapStatus maps a handler's free-form status string onto the envelope status.
// The envelope's own status names match first, then keyword heuristics.
func MapStatus(s string) models.Status {
	v := strings.ToLower(strings.TrimSpace(s))
	switch statusSeparators.Replace(v) {
	case "":
		return models.StatusSuccess
	case "success":
		return models.StatusSuccess
	case "partialfailure":
		return models.StatusPartialFailure
	case "failed", "failure":
		return models.StatusFailed
	}

	switch {
	case strings.Contains(v, "partial"):
		return models.StatusPartialFailure
	case isNegated(v, "error"), isNegated(v, "fail"):
		return models.StatusSuccess
	case strings.Contains(v, "fail"), strings.Contains(v, "error"), strings.Contains(v, "unsuccess"):
		return models.StatusFailed
	case strings.Contains(v, "success"), strings.Contains(v, "completed"), v == "ok" || v == "done":
		return models.StatusSuccess
	default:
		return models.StatusPartialFailure
	}
}

// isNegated reports phrases like "no errors" or "without failures".
func isNegated(v, keyword string) bool {
	for _, prefix := range []string{"no ", "without ", "zero ", "0 "} {
		if strings.Contains(v, prefix+keyword) {
			return true
		}
	}
	return false
}
