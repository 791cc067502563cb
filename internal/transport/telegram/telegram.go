// Package telegram adapts the outbound DM contract onto the Telegram
// Bot API. Each sending account is its own bot token; bots are built
// lazily on first use so a misconfigured account fails at send time,
// not at boot.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"outreachd/internal/transport"
	logx "outreachd/pkg/logx"
)

// SecretSource resolves an account name to its bot token. The account
// pool implements this.
type SecretSource interface {
	Secret(name string) (string, bool)
}

type Adapter struct {
	log     logx.Logger
	secrets SecretSource

	mu      sync.Mutex
	bots    map[string]*tele.Bot
	offsets map[string]int // getUpdates high-water mark per account
}

func New(secrets SecretSource, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		log:     log,
		secrets: secrets,
		bots:    map[string]*tele.Bot{},
		offsets: map[string]int{},
	}
}

// handle is a bare Telegram recipient: "@username" or a numeric chat id.
type handle string

func (h handle) Recipient() string { return string(h) }

func (a *Adapter) bot(acct string) (*tele.Bot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.bots[acct]; ok {
		return b, nil
	}
	token, ok := a.secrets.Secret(acct)
	if !ok || strings.TrimSpace(token) == "" {
		return nil, errors.New("no token for account " + acct)
	}
	// Offline skips the getMe round-trip; the first real call validates
	// the token instead.
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	a.bots[acct] = b
	return b, nil
}

func (a *Adapter) Send(ctx context.Context, acct, recipient, body string) transport.Result {
	b, err := a.bot(acct)
	if err != nil {
		return transport.Failed(transport.FailureUnknown, err.Error())
	}

	type sendResult struct {
		msg *tele.Message
		err error
	}
	// telebot calls are not context-aware; bound them ourselves.
	ch := make(chan sendResult, 1)
	go func() {
		msg, err := b.Send(handle(recipient), body)
		ch <- sendResult{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return transport.Failed(transport.FailureNetwork, ctx.Err().Error())
	case r := <-ch:
		if r.err != nil {
			kind := classify(r.err)
			a.log.Debug("telegram send failed",
				logx.String("account", acct),
				logx.String("kind", string(kind)),
				logx.Err(r.err))
			return transport.Failed(kind, r.err.Error())
		}
		res := transport.Result{OK: true}
		if r.msg != nil {
			res.ProviderMessageID = strconv.Itoa(r.msg.ID)
		}
		return res
	}
}

// classify maps a Telegram API error onto the failure taxonomy that
// drives retry and account-demotion policy.
func classify(err error) transport.FailureKind {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.FailureRateLimited
	}

	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated):
		return transport.FailureRecipientNotFound
	case errors.Is(err, tele.ErrUnauthorized):
		// Token revoked or account restricted; needs manual attention.
		return transport.FailureChallenge
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return transport.FailureNetwork
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return transport.FailureNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "retry after"):
		return transport.FailureRateLimited
	case strings.Contains(msg, "chat not found"), strings.Contains(msg, "user not found"):
		return transport.FailureRecipientNotFound
	case strings.Contains(msg, "spam"):
		return transport.FailureSpamFlag
	}
	return transport.FailureUnknown
}

// CheckInbound drains getUpdates for one account and returns private
// text messages. The per-account offset advances past everything seen,
// including non-message updates.
func (a *Adapter) CheckInbound(ctx context.Context, acct string) ([]transport.Inbound, error) {
	b, err := a.bot(acct)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	offset := a.offsets[acct]
	a.mu.Unlock()

	type rawResult struct {
		data []byte
		err  error
	}
	ch := make(chan rawResult, 1)
	go func() {
		data, err := b.Raw("getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         0,
			"allowed_updates": []string{"message"},
		})
		ch <- rawResult{data: data, err: err}
	}()

	var data []byte
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		data = r.data
	}

	var resp struct {
		Result []struct {
			UpdateID int `json:"update_id"`
			Message  *struct {
				Text string `json:"text"`
				Date int64  `json:"date"`
				Chat struct {
					ID       int64  `json:"id"`
					Type     string `json:"type"`
					Username string `json:"username"`
				} `json:"chat"`
			} `json:"message"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}

	var out []transport.Inbound
	next := offset
	for _, u := range resp.Result {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
		m := u.Message
		if m == nil || m.Text == "" || m.Chat.Type != "private" {
			continue
		}
		from := m.Chat.Username
		if from == "" {
			from = strconv.FormatInt(m.Chat.ID, 10)
		}
		out = append(out, transport.Inbound{
			Recipient:  from,
			Body:       m.Text,
			ReceivedAt: time.Unix(m.Date, 0),
		})
	}

	if next != offset {
		a.mu.Lock()
		a.offsets[acct] = next
		a.mu.Unlock()
	}
	return out, nil
}
