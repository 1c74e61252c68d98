package questions

import (
	"errors"
	"fmt"
	"strings"

	"examforge/internal/models"

	"github.com/go-playground/validator/v10"
)

// Validator reports soft quality problems. Its findings are warnings attached
// to the batch result; they never block persistence.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterStructValidation(answerAmongOptions, models.Question{})
	return &Validator{v: v}
}

func (val *Validator) Validate(items []models.Question) []string {
	var warnings []string
	for i, q := range items {
		err := val.v.Struct(q)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			warnings = append(warnings, fmt.Sprintf("item %d: %v", i+1, err))
			continue
		}
		for _, fe := range verrs {
			warnings = append(warnings, fmt.Sprintf("item %d: %s failed %s", i+1, strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return warnings
}

func answerAmongOptions(sl validator.StructLevel) {
	q := sl.Current().Interface().(models.Question)
	if len(q.Options) == 0 {
		return
	}
	for _, o := range q.Options {
		if strings.EqualFold(strings.TrimSpace(o), strings.TrimSpace(q.Answer)) {
			return
		}
	}
	sl.ReportError(q.Answer, "Answer", "answer", "answer_in_options", "")
}
