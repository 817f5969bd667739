package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Steank-29/tawakkol/internal/domain"
)

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`Hello {{.Customer.Name}},

Thank you for your order {{.Number}}.

{{range .Items}}- {{.Name}}{{if .Size}} ({{.Size}}{{if .Color}}, {{.Color}}{{end}}){{end}} x{{.Quantity}}: {{.UnitPrice.StringFixed 2}}
{{end}}
Subtotal: {{.Subtotal.StringFixed 2}}
Shipping: {{.ShippingCost.StringFixed 2}}
Tax: {{.Tax.StringFixed 2}}
Total: {{.Total.StringFixed 2}}

Payment: cash on delivery.
Delivery to: {{.Customer.Address}}, {{.Customer.City}}, {{.Customer.Country}}
`))

// RenderConfirmation собирает тему и текст письма-подтверждения.
func RenderConfirmation(order domain.Order) (string, string, error) {
	var body bytes.Buffer
	if err := confirmationTemplate.Execute(&body, order); err != nil {
		return "", "", fmt.Errorf("render confirmation: %w", err)
	}
	return fmt.Sprintf("Order %s confirmed", order.Number), body.String(), nil
}
