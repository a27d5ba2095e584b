package localsdk

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/mrz1836/tessera/internal/embedded"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// OTP parameters.
const (
	OTPDigits      = 6
	OTPMaxAttempts = 5
)

// Delivery channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// CodeSender delivers one-time codes.
type CodeSender interface {
	SendCode(ctx context.Context, channel, destination, code string) error
}

// LogSender writes codes to the debug log. Only suitable for development.
type LogSender struct {
	Logger LogWriter
}

// SendCode logs the code.
func (s LogSender) SendCode(_ context.Context, channel, destination, code string) error {
	s.Logger.Debug("localsdk: %s code for %s: %s", channel, destination, code)
	return nil
}

type otpEntry struct {
	code     string
	expires  time.Time
	attempts int
}

func otpKey(channel, destination string) string {
	return channel + ":" + destination
}

func newCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPDigits, n.Int64()), nil
}

// SendEmailCode issues a code for email.
func (p *Provider) SendEmailCode(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return tserr.Wrap(tserr.ErrInvalidInput, "invalid email %q", email)
	}
	return p.sendCode(ctx, ChannelEmail, email)
}

// SendSmsCode issues a code for phone.
func (p *Provider) SendSmsCode(ctx context.Context, phone string) error {
	phone = normalizePhone(phone)
	if len(phone) < 8 {
		return tserr.Wrap(tserr.ErrInvalidInput, "invalid phone number")
	}
	return p.sendCode(ctx, ChannelSMS, phone)
}

// VerifyEmailCode signs in (or signs up) with an email code.
func (p *Provider) VerifyEmailCode(_ context.Context, email, code string) (*embedded.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return p.verifyCode(ChannelEmail, email, code, embedded.LinkedAccount{Type: embedded.AccountEmail, Subject: email})
}

// VerifySmsCode signs in (or signs up) with an SMS code.
func (p *Provider) VerifySmsCode(_ context.Context, phone, code string) (*embedded.User, error) {
	phone = normalizePhone(phone)
	return p.verifyCode(ChannelSMS, phone, code, embedded.LinkedAccount{Type: embedded.AccountPhone, Subject: phone})
}

func (p *Provider) sendCode(ctx context.Context, channel, destination string) error {
	code, err := newCode()
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.otps[otpKey(channel, destination)] = &otpEntry{code: code, expires: p.now().Add(p.otpTTL)}
	p.mu.Unlock()

	if err := p.sender.SendCode(ctx, channel, destination, code); err != nil {
		return tserr.WithCause(tserr.ErrNetworkError, err)
	}
	return nil
}

func (p *Provider) verifyCode(channel, destination, code string, account embedded.LinkedAccount) (*embedded.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := otpKey(channel, destination)
	entry, ok := p.otps[key]
	if !ok {
		return nil, tserr.Wrap(tserr.ErrAuthentication, "no code was requested for %s", destination)
	}
	if !p.now().Before(entry.expires) {
		delete(p.otps, key)
		return nil, tserr.Wrap(tserr.ErrAuthentication, "code expired")
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(entry.code)) != 1 {
		entry.attempts++
		if entry.attempts >= OTPMaxAttempts {
			delete(p.otps, key)
			return nil, tserr.Wrap(tserr.ErrAuthentication, "too many attempts, request a new code")
		}
		return nil, tserr.Wrap(tserr.ErrAuthentication, "incorrect code")
	}
	delete(p.otps, key)

	return p.signInLocked(account, func(a embedded.LinkedAccount) bool {
		return a.Type == account.Type && a.Subject == account.Subject
	})
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if (r == '+' && i == 0) || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
