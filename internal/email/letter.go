package email

import (
	"context"
	"fmt"
	"time"
)

// LetterParams holds the data needed to send the "you have a letter" email.
type LetterParams struct {
	To           string // recipient email address
	SenderName   string
	ReceiverName string
	MessageType  string
	LetterID     string // inserted into the letter URL
}

// LetterMailer renders the letter notification email and delivers it
// through the fallback chain. It is the single send path shared by the
// free-immediate handler, the reconciliation handler, and the dispatch
// sweep.
type LetterMailer struct {
	chain    *Chain
	fromAddr string // "Carta Secreta <hola@cartasecreta.app>"
	baseURL  string // letter view URL base
}

// NewLetterMailer wires the chain with the configured sender identity.
func NewLetterMailer(chain *Chain, fromAddr, baseURL string) *LetterMailer {
	return &LetterMailer{chain: chain, fromAddr: fromAddr, baseURL: baseURL}
}

// SendLetter delivers the notification and returns the name of the provider
// that accepted it.
func (m *LetterMailer) SendLetter(ctx context.Context, p LetterParams) (string, error) {
	letterURL := fmt.Sprintf("%s/carta/%s", m.baseURL, p.LetterID)

	return m.chain.Deliver(ctx, Message{
		From:    m.fromAddr,
		To:      p.To,
		Subject: fmt.Sprintf("💌 %s te escribió una carta sorpresa", p.SenderName),
		HTML:    letterHTML(p.SenderName, p.ReceiverName, letterURL),
	})
}

func letterHTML(senderName, receiverName, letterURL string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="es">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>¡Tienes una carta especial!</title>
</head>
<body style="margin: 0; padding: 0; background-color: #fff1f2; font-family: 'Helvetica', 'Arial', sans-serif;">
  <table role="presentation" width="100%%" cellpadding="0" cellspacing="0" style="background-color: #fff1f2; padding: 40px 20px;">
    <tr>
      <td align="center">
        <table role="presentation" width="100%%" cellpadding="0" cellspacing="0" style="max-width: 500px; background-color: #ffffff; border-radius: 24px; overflow: hidden; box-shadow: 0 10px 40px rgba(225, 29, 72, 0.15); border: 1px solid #fce7f3;">
          <tr>
            <td style="height: 8px; background: linear-gradient(90deg, #fda4af 0%%, #e11d48 100%%);"></td>
          </tr>
          <tr>
            <td style="padding: 40px 32px 20px 32px; text-align: center;">
              <div style="font-size: 48px; margin-bottom: 16px; line-height: 1;">💌</div>
              <h1 style="color: #881337; font-size: 24px; font-weight: 700; margin: 0; line-height: 1.3; font-family: 'Georgia', serif; letter-spacing: -0.5px;">
                ¡Sorpresa de San Valentín!
              </h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 0 32px 40px 32px; text-align: center;">
              <p style="color: #be123c; font-size: 18px; margin: 0 0 16px 0; font-weight: 500;">
                Hola, %s ✨
              </p>
              <p style="color: #4b5563; font-size: 16px; margin: 0 0 32px 0; line-height: 1.6;">
                <strong style="color: #e11d48;">%s</strong> te ha enviado una carta secreta.<br>
                Hay palabras escritas con el corazón esperando ser leídas por vos.
              </p>
              <table role="presentation" cellpadding="0" cellspacing="0" style="margin: 0 auto;">
                <tr>
                  <td style="background-color: #e11d48; border-radius: 50px;">
                    <a href="%s" target="_blank" style="display: inline-block; padding: 16px 48px; color: #ffffff; text-decoration: none; font-size: 16px; font-weight: bold; font-family: sans-serif; border-radius: 50px;">
                      Leer mi carta &rarr;
                    </a>
                  </td>
                </tr>
              </table>
              <p style="color: #9ca3af; font-size: 12px; margin: 24px 0 0 0;">
                El enlace expira pronto, ¡no lo dejes pasar!
              </p>
            </td>
          </tr>
          <tr>
            <td style="background-color: #fff0f5; padding: 24px 32px; text-align: center; border-top: 1px solid #fce7f3;">
              <p style="color: #9d174d; font-size: 13px; margin: 0;">
                Hecho con 💖 para este 14 de Febrero
              </p>
            </td>
          </tr>
        </table>
        <p style="margin-top: 24px; color: #fda4af; font-size: 12px;">© %d Carta Secreta</p>
      </td>
    </tr>
  </table>
</body>
</html>`, receiverName, senderName, letterURL, time.Now().Year())
}
