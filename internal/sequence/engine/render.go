package engine

import (
	"strings"

	"github.com/leadflow/leadflow-backend/internal/crm"
	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

// renderStep fills the step's subject and body templates with lead
// fields and the step's custom variables. Variables use {{name}}
// placeholders; custom variables override lead fields of the same name.
func renderStep(step domain.Step, lead *crm.Lead) (subject, html string) {
	vars := map[string]string{
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"email":      lead.Email,
		"company":    lead.Company,
	}
	for k, v := range step.Variables {
		vars[k] = v
	}

	return renderTemplate(step.Subject, vars), renderTemplate(step.BodyTemplate, vars)
}

func renderTemplate(tpl string, vars map[string]string) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}

	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
