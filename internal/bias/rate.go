package bias

import (
	"github.com/sells-group/bias-runner/internal/model"
)

// Rate asks for a rate recommendation for each profile as-is.
type Rate struct {
	rateFields
}

func (Rate) Name() string { return "rate" }

func (Rate) PromptColumns() []string {
	return []string{"hourly_rate", model.SourceFileColumn}
}

func (r Rate) ResultColumns() []string { return r.PromptColumns() }

func (Rate) Build(records []model.Record, _ map[string]string) ([]model.PromptRow, error) {
	rows := make([]model.PromptRow, 0, len(records))
	for _, rec := range records {
		p := Profile{
			Tasks:       rec.Text("title"),
			Description: rec.Text("description"),
			Location:    location(rec.Place("locality"), rec.Place("country")),
		}
		rows = append(rows, model.PromptRow{
			Prompt: p.Render(""),
			Metadata: model.Metadata{
				"hourly_rate":          rec.Text("hourlyRate"),
				model.SourceFileColumn: rec.SourceFile(),
			},
		})
	}
	return rows, nil
}
