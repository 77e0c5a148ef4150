package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

// Default registration parameters.
const (
	defaultExpires    = time.Hour
	defaultBackoff    = time.Second
	defaultMaxBackoff = time.Minute
)

// RegisterConfig configures registration with a SIP registrar.
type RegisterConfig struct {
	// Registrar is the registrar's host[:port].
	Registrar string

	Username string
	Password string

	// Expires is the binding lifetime requested. Defaults to one hour.
	Expires time.Duration

	// RetryBackoff is the first delay after a failed attempt. It doubles up
	// to MaxBackoff. Defaults to 1s.
	RetryBackoff time.Duration

	// MaxBackoff caps the retry delay. Defaults to one minute.
	MaxBackoff time.Duration
}

func (c *RegisterConfig) applyDefaults() {
	if c.Expires <= 0 {
		c.Expires = defaultExpires
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
}

// requester is the part of [sipgo.Client] the registrar needs.
type requester interface {
	TransactionRequest(ctx context.Context, req *sip.Request, options ...sipgo.ClientRequestOption) (sip.ClientTransaction, error)
}

// Registrar keeps a contact binding alive at a registrar. It re-registers
// before the granted lifetime runs out and retries failed attempts with
// exponential backoff.
type Registrar struct {
	cfg     RegisterConfig
	client  requester
	aor     sip.Uri
	contact sip.ContactHeader
	callID  sip.CallIDHeader
	fromTag string
	cseq    uint32
}

// NewRegistrar returns a Registrar binding contact to
// sip:username@registrar.
func NewRegistrar(client *sipgo.Client, cfg RegisterConfig, contact sip.ContactHeader) (*Registrar, error) {
	return newRegistrar(client, cfg, contact)
}

func newRegistrar(client requester, cfg RegisterConfig, contact sip.ContactHeader) (*Registrar, error) {
	if cfg.Registrar == "" || cfg.Username == "" {
		return nil, errors.New("sip: registrar and username are required")
	}
	cfg.applyDefaults()
	var aor sip.Uri
	if err := sip.ParseUri("sip:"+cfg.Username+"@"+cfg.Registrar, &aor); err != nil {
		return nil, fmt.Errorf("sip: registrar address: %w", err)
	}
	return &Registrar{
		cfg:     cfg,
		client:  client,
		aor:     aor,
		contact: contact,
		callID:  sip.CallIDHeader(sip.GenerateTagN(24)),
		fromTag: sip.GenerateTagN(16),
	}, nil
}

// Run registers and keeps the binding fresh until ctx is cancelled. On exit
// it tries to remove the binding.
func (r *Registrar) Run(ctx context.Context) error {
	backoff := r.cfg.RetryBackoff
	for {
		granted, err := r.register(ctx, r.cfg.Expires)
		var wait time.Duration
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("sip: registration failed", "registrar", r.cfg.Registrar, "backoff", backoff, "err", err)
			wait = backoff
			backoff = min(backoff*2, r.cfg.MaxBackoff)
		} else {
			slog.Info("sip: registered", "aor", r.aor.String(), "expires", granted)
			backoff = r.cfg.RetryBackoff
			wait = refreshAfter(granted)
		}

		select {
		case <-ctx.Done():
		case <-time.After(wait):
			continue
		}
		break
	}

	unreg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := r.register(unreg, 0); err != nil {
		slog.Debug("sip: unregister failed", "err", err)
	}
	return nil
}

// refreshAfter schedules a refresh at 80% of the granted lifetime.
func refreshAfter(granted time.Duration) time.Duration {
	return max(granted*4/5, time.Second)
}

// register sends one REGISTER, answering a digest challenge if the
// registrar sends one, and returns the lifetime it granted.
func (r *Registrar) register(ctx context.Context, expires time.Duration) (time.Duration, error) {
	res, err := r.send(ctx, expires, "", "")
	if err != nil {
		return 0, err
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		challengeHdr, authHdr := "WWW-Authenticate", "Authorization"
		if res.StatusCode == 407 {
			challengeHdr, authHdr = "Proxy-Authenticate", "Proxy-Authorization"
		}
		h := res.GetHeader(challengeHdr)
		if h == nil {
			return 0, fmt.Errorf("sip: %d without %s", res.StatusCode, challengeHdr)
		}
		cred, err := r.authorize(h.Value())
		if err != nil {
			return 0, err
		}
		if res, err = r.send(ctx, expires, authHdr, cred); err != nil {
			return 0, err
		}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, fmt.Errorf("sip: register rejected: %d %s", res.StatusCode, res.Reason)
	}
	if h := res.GetHeader("Expires"); h != nil {
		if secs, err := strconv.Atoi(h.Value()); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
	}
	return expires, nil
}

// authorize computes the digest credentials for a challenge.
func (r *Registrar) authorize(challenge string) (string, error) {
	ch, err := digest.ParseChallenge(challenge)
	if err != nil {
		return "", fmt.Errorf("sip: invalid challenge %q: %w", challenge, err)
	}
	cred, err := digest.Digest(ch, digest.Options{
		Method:   sip.REGISTER.String(),
		URI:      r.requestURI().String(),
		Username: r.cfg.Username,
		Password: r.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("sip: digest: %w", err)
	}
	return cred.String(), nil
}

func (r *Registrar) requestURI() sip.Uri {
	return sip.Uri{Host: r.aor.Host, Port: r.aor.Port}
}

func (r *Registrar) send(ctx context.Context, expires time.Duration, authHdr, cred string) (*sip.Response, error) {
	req := sip.NewRequest(sip.REGISTER, r.requestURI())

	from := &sip.FromHeader{Address: r.aor, Params: sip.NewParams()}
	from.Params.Add("tag", r.fromTag)
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: r.aor, Params: sip.NewParams()})
	callID := r.callID
	req.AppendHeader(&callID)
	r.cseq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: r.cseq, MethodName: sip.REGISTER})
	contact := r.contact
	req.AppendHeader(&contact)
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))
	if authHdr != "" {
		req.AppendHeader(sip.NewHeader(authHdr, cred))
	}

	tx, err := r.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sip: send register: %w", err)
	}
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, fmt.Errorf("sip: register: %w", err)
			}
			return nil, errors.New("sip: register transaction ended without a response")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
