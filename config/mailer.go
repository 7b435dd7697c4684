package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	mail "github.com/go-mail/mail/v2"
)

var (
	smtpHost      string
	smtpPort      int
	smtpUser      string
	smtpPass      string
	smtpFrom      string // e.g. "Permit System <no-reply@your.org>"
	skipTLSVerify bool
)

func init() {
	ReloadMailerConfig()
}

// ReloadMailerConfig re-reads SMTP settings from the environment. Call it
// after godotenv.Load so values from a .env file are picked up.
func ReloadMailerConfig() {
	smtpHost = os.Getenv("SMTP_HOST")
	smtpPort = func() int {
		p, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
		if p == 0 {
			p = 587
		}
		return p
	}()
	smtpUser = os.Getenv("SMTP_USER")
	smtpPass = os.Getenv("SMTP_PASS")
	smtpFrom = os.Getenv("SMTP_FROM")
	skipTLSVerify = os.Getenv("SMTP_SKIP_TLS_VERIFY") == "1"
}

func SendMail(to []string, subject, html string) error {
	if len(to) == 0 {
		return nil
	}
	if smtpHost == "" || smtpFrom == "" {
		return fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}

	m := mail.NewMessage()
	m.SetHeader("From", smtpFrom)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	d := mail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPass)

	// Force STARTTLS on port 587 (Gmail/Office365 require it).
	d.StartTLSPolicy = mail.MandatoryStartTLS

	// Bound each delivery attempt; a hung relay must not stall the queue
	// processor indefinitely.
	d.Timeout = 15 * time.Second

	// ServerName must match the SMTP hostname for cert verification.
	// SMTP_SKIP_TLS_VERIFY=1 is for dev setups with self-signed certs only.
	d.TLSConfig = &tls.Config{
		ServerName:         smtpHost,
		InsecureSkipVerify: skipTLSVerify,
	}

	return d.DialAndSend(m)
}
