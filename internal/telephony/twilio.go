package telephony

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ivr-tester/pkg/logger"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioAPI is the subset of the Twilio REST client we use.
type twilioAPI interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// TwilioConfig configures the Twilio call-control adapter.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// CallbackURL is the public URL of the Twilio callback endpoint.
	CallbackURL string
}

// TwilioProvider drives calls through the Twilio REST API. Media verbs are
// issued as TwiML call updates; their outcomes come back on CallbackURL.
type TwilioProvider struct {
	cfg    TwilioConfig
	client twilioAPI
	log    *slog.Logger
}

func NewTwilioProvider(cfg TwilioConfig, log *slog.Logger) *TwilioProvider {
	return &TwilioProvider{cfg: cfg, log: logger.Component(log, "telephony.twilio")}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) api() (twilioAPI, error) {
	if p.client != nil {
		return p.client, nil
	}
	if p.cfg.AccountSID == "" || p.cfg.AuthToken == "" {
		return nil, errors.New("telephony: missing twilio credentials")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: p.cfg.AccountSID,
		Password: p.cfg.AuthToken,
	})
	p.client = rest.Api
	return p.client, nil
}

// twilio-go's REST client takes no context, so the ctx parameters below are unused.

func (p *TwilioProvider) StartCall(_ context.Context, req CallRequest) (Call, error) {
	if strings.TrimSpace(req.Target) == "" {
		return Call{}, &CallStartError{Target: req.Target, Err: errors.New("target number required")}
	}
	if strings.TrimSpace(req.Source) == "" {
		return Call{}, &CallStartError{Target: req.Target, Err: errors.New("source number required")}
	}
	client, err := p.api()
	if err != nil {
		return Call{}, &CallStartError{Target: req.Target, Err: err}
	}
	hold, err := HoldTwiML(p.cfg.CallbackURL)
	if err != nil {
		return Call{}, &CallStartError{Target: req.Target, Err: err}
	}
	status, err := callbackURL(p.cfg.CallbackURL, callbackStatus)
	if err != nil {
		return Call{}, &CallStartError{Target: req.Target, Err: err}
	}

	params := &api.CreateCallParams{}
	params.SetTo(req.Target)
	params.SetFrom(req.Source)
	params.SetTwiml(hold)
	params.SetStatusCallback(status)
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"answered", "completed"})

	resp, err := client.CreateCall(params)
	if err != nil {
		return Call{}, &CallStartError{Target: req.Target, Err: err}
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return Call{}, &CallStartError{Target: req.Target, Err: errors.New("missing call sid")}
	}

	p.log.Info("call initiated", "call_sid", *resp.Sid, "to", req.Target)
	return Call{ConnectionID: *resp.Sid, Target: req.Target, Source: req.Source}, nil
}

func (p *TwilioProvider) HangUp(_ context.Context, call Call) error {
	if !call.Active() {
		return nil
	}
	client, err := p.api()
	if err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := client.UpdateCall(call.ConnectionID, params); err != nil {
		return err
	}
	p.log.Info("call hung up", "call_sid", call.ConnectionID)
	return nil
}

func (p *TwilioProvider) SendDtmf(ctx context.Context, call Call, tones []Tone) error {
	if !call.Active() || call.Target == "" || len(tones) == 0 {
		return nil
	}
	twiml, err := DtmfTwiML(p.cfg.CallbackURL, tones)
	if err != nil {
		return err
	}
	return p.update(ctx, call, twiml)
}

func (p *TwilioProvider) PlayText(ctx context.Context, call Call, text string) error {
	if !call.Active() || strings.TrimSpace(text) == "" {
		return nil
	}
	twiml, err := PlayTextTwiML(p.cfg.CallbackURL, text)
	if err != nil {
		return err
	}
	return p.update(ctx, call, twiml)
}

func (p *TwilioProvider) StartRecognizing(ctx context.Context, call Call) error {
	if !call.Active() || call.Target == "" {
		return nil
	}
	twiml, err := RecognizeTwiML(p.cfg.CallbackURL)
	if err != nil {
		return err
	}
	p.log.Debug("start recognizing", "call_sid", call.ConnectionID)
	return p.update(ctx, call, twiml)
}

// update replaces whatever the call is currently executing.
func (p *TwilioProvider) update(_ context.Context, call Call, twiml string) error {
	client, err := p.api()
	if err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(twiml)
	_, err = client.UpdateCall(call.ConnectionID, params)
	return err
}
