// Package notify sends customer notifications outside the request path.
package notify

import (
	"bytes"
	"context"
	"html/template"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/xenking/qkart/internal/domain/checkout"
	"github.com/xenking/qkart/internal/domain/customer"
	"github.com/xenking/qkart/internal/domain/order"
)

const (
	defaultQueueSize = 256
	sendTimeout      = 30 * time.Second
)

var (
	_ checkout.Notifier = (*Mailer)(nil)
	_ checkout.Notifier = Noop{}
)

// Noop discards notifications.
type Noop struct{}

func (Noop) OrderConfirmed(context.Context, *order.Order, *customer.User) {}

// Sender delivers messages. *mail.Client implements it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Config holds SMTP settings.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	QueueSize int
}

type confirmation struct {
	to    string
	name  string
	order order.Order
}

// Mailer queues order confirmation e-mails and sends them from a single
// worker started with Run.
type Mailer struct {
	sender Sender
	from   string
	queue  chan confirmation
}

// NewMailer creates a Mailer that sends through the SMTP server in cfg.
func NewMailer(cfg Config) (*Mailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}
	return newMailer(client, cfg.From, cfg.QueueSize), nil
}

func newMailer(sender Sender, from string, queueSize int) *Mailer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Mailer{
		sender: sender,
		from:   from,
		queue:  make(chan confirmation, queueSize),
	}
}

// OrderConfirmed enqueues a confirmation for o. When the queue is full the
// message is dropped.
func (m *Mailer) OrderConfirmed(ctx context.Context, o *order.Order, u *customer.User) {
	if u == nil || u.Email == "" {
		return
	}
	select {
	case m.queue <- confirmation{to: u.Email, name: u.Name, order: *o}:
	default:
		zctx.From(ctx).Warn("Mail queue full, dropping order confirmation",
			zap.String("order_id", o.ID),
		)
	}
}

// Run sends queued messages until ctx is done.
func (m *Mailer) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-m.queue:
			if err := m.send(ctx, c); err != nil {
				lg.Warn("Send order confirmation",
					zap.String("order_id", c.order.ID),
					zap.Error(err),
				)
				continue
			}
			lg.Debug("Order confirmation sent", zap.String("order_id", c.order.ID))
		}
	}
}

func (m *Mailer) send(ctx context.Context, c confirmation) error {
	body, err := renderConfirmation(c)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return errors.Wrap(err, "from")
	}
	if err := msg.To(c.to); err != nil {
		return errors.Wrap(err, "to")
	}
	msg.Subject(confirmationSubject(&c.order))
	msg.SetBodyString(mail.TypeTextHTML, body)

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrap(err, "send")
	}
	return nil
}

func confirmationSubject(o *order.Order) string {
	return "Your order " + o.ID + " is confirmed"
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="en">
<body style="font-family: Arial, sans-serif;">
<h2>Thank you for your order{{if .Name}}, {{.Name}}{{end}}!</h2>
<p>Order <strong>{{.ID}}</strong> is confirmed.</p>
<table style="border-collapse: collapse;">
<tr><th align="left">Product</th><th>Qty</th><th align="right">Unit price</th><th align="right">Total</th></tr>
{{- range .Items}}
<tr><td>{{.ProductID}}</td><td align="center">{{.Quantity}}</td><td align="right">${{.Price}}</td><td align="right">${{.Total}}</td></tr>
{{- end}}
</table>
<p>Subtotal: ${{.Subtotal}}</p>
{{- if .CouponCode}}
<p>Discount ({{.CouponCode}}): -${{.Discount}}</p>
{{- end}}
<p><strong>Total: ${{.Total}}</strong></p>
{{- if .ETA}}
<p>Estimated delivery: {{.ETA}}</p>
{{- end}}
</body>
</html>`))

type confirmationItem struct {
	ProductID string
	Quantity  int
	Price     string
	Total     string
}

func renderConfirmation(c confirmation) (string, error) {
	o := c.order
	data := struct {
		Name       string
		ID         string
		Items      []confirmationItem
		Subtotal   string
		CouponCode string
		Discount   string
		Total      string
		ETA        string
	}{
		Name:       c.name,
		ID:         o.ID,
		Subtotal:   o.Subtotal.StringFixed(2),
		CouponCode: o.CouponCode,
		Discount:   o.DiscountAmount.StringFixed(2),
		Total:      o.TotalAmount.StringFixed(2),
	}
	for _, item := range o.Items {
		data.Items = append(data.Items, confirmationItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.PriceAtPurchase.StringFixed(2),
			Total:     item.LineTotal().StringFixed(2),
		})
	}
	if o.EstimatedDeliveryDate != nil {
		data.ETA = o.EstimatedDeliveryDate.Format("Monday, January 2")
	}

	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "render confirmation")
	}
	return buf.String(), nil
}
