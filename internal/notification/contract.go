package notification

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// ContractNotice is the post-funding document sent to lender and farmer.
type ContractNotice struct {
	ContractID    string    `json:"contract_id"`
	ApplicationID string    `json:"application_id"`
	LenderID      string    `json:"lender_id"`
	LenderEmail   string    `json:"lender_email"`
	FarmerID      string    `json:"farmer_id"`
	FarmerName    string    `json:"farmer_name"`
	FarmerEmail   string    `json:"farmer_email"`
	Principal     string    `json:"principal"`
	Fee           string    `json:"fee"`
	InterestRate  string    `json:"interest_rate"`
	TermMonths    int       `json:"term_months"`
	Currency      string    `json:"currency"`
	IssuedAt      time.Time `json:"issued_at"`
}

var contractTmpl = template.Must(template.New("contract").Parse(`LOAN CONTRACT {{.ContractID}}

Application:   {{.ApplicationID}}
Borrower:      {{.FarmerName}} ({{.FarmerID}})
Lender:        {{.LenderID}}
Principal:     {{.Currency}} {{.Principal}}
Interest rate: {{.InterestRate}}% per annum
Term:          {{.TermMonths}} months
Issued:        {{.IssuedAt.Format "2006-01-02 15:04 MST"}}

The principal above has been disbursed from the lender's wallet. A platform
fee of {{.Currency}} {{.Fee}} was charged to the lender.
`))

// RenderContract produces the plain-text contract document.
func RenderContract(n ContractNotice) (string, error) {
	var buf bytes.Buffer
	if err := contractTmpl.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("render contract %s: %w", n.ContractID, err)
	}
	return buf.String(), nil
}

// Recipients returns the delivery addresses for a notice, skipping blanks.
func (n ContractNotice) Recipients() []string {
	out := make([]string, 0, 2)
	for _, addr := range []string{n.LenderEmail, n.FarmerEmail} {
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
