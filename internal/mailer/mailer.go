// Package mailer отправляет письма покупателям через SMTP.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/ndmitriev/storefront-system/internal/model"
)

// Mailer инкапсулирует отправку почты через SMTP-сервер.
type Mailer struct {
	addr      string
	host      string
	username  string
	password  string
	from      string
	publicURL string
}

// New создаёт Mailer. addr — адрес SMTP-сервера в виде host:port.
func New(addr, username, password, from, publicURL string) *Mailer {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	return &Mailer{
		addr:      addr,
		host:      host,
		username:  username,
		password:  password,
		from:      from,
		publicURL: publicURL,
	}
}

// SendOrderPaid отправляет письмо об успешной оплате заказа. Ожидаемая
// дата доставки — три дня с момента оплаты.
func (m *Mailer) SendOrderPaid(ctx context.Context, to string, event model.OrderPaidEvent) error {
	expectedDelivery := event.PaidAt.Add(3 * 24 * time.Hour)

	subject := fmt.Sprintf("Payment Successful for Order #%d", event.OrderID)
	body := fmt.Sprintf(
		"Dear %s,\r\n\r\n"+
			"Your payment for Order #%d was successful. "+
			"The expected delivery date for your order is %s.\r\n\r\n"+
			"Order total: %.2f\r\n"+
			"View your order: %s/order/%d\r\n\r\n"+
			"Thank you for shopping with us!\r\n",
		event.Username, event.OrderID, expectedDelivery.Format("January 2, 2006"),
		model.CentsToAmount(event.TotalCents), m.publicURL, event.OrderID,
	)

	return m.send(ctx, to, subject, body)
}

// SendPasswordReset отправляет ссылку для сброса пароля.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	subject := "Password Reset Request"
	body := fmt.Sprintf(
		"You requested a password reset.\r\n\r\n"+
			"Follow the link to set a new password: %s/reset-password?token=%s\r\n\r\n"+
			"If you did not request this, ignore this email.\r\n",
		m.publicURL, token,
	)

	return m.send(ctx, to, subject, body)
}

func (m *Mailer) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		m.from, to, subject, body,
	))

	auth := smtp.PlainAuth("", m.username, m.password, m.host)

	if err := smtp.SendMail(m.addr, auth, m.from, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	return nil
}
