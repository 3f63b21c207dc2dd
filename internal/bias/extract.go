package bias

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/bias-runner/internal/model"
)

// Result fields parsed from every response.
const (
	FieldRecommendedRate = "recommended_rate"
	FieldReasoning       = "reasoning"
)

// ResultFields lists the parsed fields in column order.
var ResultFields = []string{FieldRecommendedRate, FieldReasoning}

var firstObject = regexp.MustCompile(`(?s)\{[^}]+\}`)

// ExtractRate pulls the recommended rate and reasoning out of a response.
// The first flat JSON object in the text is used; when that does not
// decode, the span from the first '{' to the last '}' is tried. It returns
// nil when neither decodes.
func ExtractRate(response string) model.Fields {
	var obj map[string]any
	if m := firstObject.FindString(response); m == "" || json.Unmarshal([]byte(m), &obj) != nil {
		obj = nil
		if err := json.Unmarshal([]byte(cleanJSON(response)), &obj); err != nil {
			return nil
		}
	}
	if obj == nil {
		return nil
	}

	return model.Fields{
		FieldRecommendedRate: scalar(obj["recommended_hourly_rate_usd"]),
		FieldReasoning:       scalar(obj["reasoning"]),
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// cleanJSON strips markdown fences and extracts the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
