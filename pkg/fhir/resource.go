package fhir

const (
	ContentTypeJSON   = "application/fhir+json"
	ContentTypeNDJSON = "application/fhir+ndjson"
)

// OperationOutcome is the FHIR resource servers use to describe errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

type CodeableConcept struct {
	Text string `json:"text,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// Message joins the human readable parts of all issues.
func (o *OperationOutcome) Message() string {
	msg := ""
	for _, issue := range o.Issue {
		text := issue.Diagnostics
		if text == "" && issue.Details != nil {
			text = issue.Details.Text
		}
		if text == "" {
			text = issue.Code
		}
		if msg != "" {
			msg += "; "
		}
		msg += text
	}
	return msg
}

// HasCode reports whether any issue carries code.
func (o *OperationOutcome) HasCode(code string) bool {
	for _, issue := range o.Issue {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// Parameters is the POST kick-off payload.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

type Parameter struct {
	Name           string     `json:"name"`
	ValueString    string     `json:"valueString,omitempty"`
	ValueInstant   string     `json:"valueInstant,omitempty"`
	ValueReference *Reference `json:"valueReference,omitempty"`
}

type Reference struct {
	Reference string `json:"reference"`
}

func NewParameters() *Parameters {
	return &Parameters{ResourceType: "Parameters", Parameter: []Parameter{}}
}

func (p *Parameters) AddString(name, value string) {
	p.Parameter = append(p.Parameter, Parameter{Name: name, ValueString: value})
}

func (p *Parameters) AddInstant(name, value string) {
	p.Parameter = append(p.Parameter, Parameter{Name: name, ValueInstant: value})
}

func (p *Parameters) AddReference(name, ref string) {
	p.Parameter = append(p.Parameter, Parameter{Name: name, ValueReference: &Reference{Reference: ref}})
}

// OutputFile is one entry of an export manifest.
type OutputFile struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Count int    `json:"count,omitempty"`
}

// Manifest is the body of a completed export status response.
type Manifest struct {
	TransactionTime     string       `json:"transactionTime,omitempty"`
	Request             string       `json:"request,omitempty"`
	RequiresAccessToken bool         `json:"requiresAccessToken"`
	Output              []OutputFile `json:"output"`
	Deleted             []OutputFile `json:"deleted,omitempty"`
	Error               []OutputFile `json:"error"`
}
