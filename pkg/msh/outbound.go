package msh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beevik/etree"
	"github.com/samber/lo"

	"github.com/sirosfoundation/go-ebms/pkg/attachment"
	"github.com/sirosfoundation/go-ebms/pkg/compression"
	"github.com/sirosfoundation/go-ebms/pkg/mep"
	"github.com/sirosfoundation/go-ebms/pkg/message"
	"github.com/sirosfoundation/go-ebms/pkg/mime"
	"github.com/sirosfoundation/go-ebms/pkg/pmode"
	"github.com/sirosfoundation/go-ebms/pkg/reliability"
	"github.com/sirosfoundation/go-ebms/pkg/transport"
)

// prepared is a built, signed and packaged user message
type prepared struct {
	id      string
	pm      *pmode.PMode
	leg     int
	toParty string
	service string
	action  string
	msg     *mime.Message
}

// Send builds the user message described by out and delivers it, retrying
// as the leg's reception awareness requires. The first attempt runs before
// Send returns; the returned Delivery completes once the message is
// acknowledged or given up. Cancelling ctx fails a delivery still waiting
// for a retry.
//
// out.Resources, or the resource manager Send creates, is closed when the
// delivery finishes.
func (e *Engine) Send(ctx context.Context, out *Outbound) (*Delivery, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	rm := out.Resources
	if rm == nil {
		rm = e.newResources()
	}
	owned := true
	defer func() {
		if owned {
			e.release(rm)
		}
	}()

	pm, err := e.pmodes.Resolve(ctx, out.PModeID)
	if err != nil {
		return nil, err
	}
	leg, err := outboundLeg(pm, out)
	if err != nil {
		return nil, err
	}
	if pulledLeg(pm.Binding, leg) {
		return nil, fmt.Errorf("%w: leg %d of %s", ErrPullLeg, leg, pm.ID)
	}

	p, err := e.prepare(ctx, pm, leg, out, rm, false)
	if err != nil {
		return nil, err
	}

	endpoint := out.Endpoint
	if endpoint == "" {
		endpoint, err = e.endpoints.ResolveEndpoint(ctx, EndpointRequest{
			PMode:   pm,
			Leg:     leg,
			PartyID: p.toParty,
			Service: p.service,
			Action:  p.action,
		})
		if err != nil {
			return nil, err
		}
	}

	log := e.logger.With(slog.String("message_id", p.id), slog.String("pmode_id", pm.ID))
	policy := pm.PolicyForLeg(leg)
	if policy.RetryEnabled() {
		for _, att := range p.msg.Attachments {
			if !att.Repeatable() {
				log.Warn("attachment can be sent once; retries will fail", slog.String("content_id", att.ID()))
			}
		}
	}

	d := newDelivery(p.id, pm.ID, leg, endpoint)
	e.outbound.Store(p.id, pm.ID)
	log.Info("sending user message", slog.String("endpoint", endpoint), slog.Int("leg", leg))

	err = e.scheduler.Deliver(ctx, p.id, policy,
		func(ctx context.Context) error { return e.attempt(ctx, p, endpoint) },
		func(o reliability.Outcome) {
			e.outbound.Delete(p.id)
			e.release(rm)
			d.complete(o)
		})
	if err != nil {
		e.outbound.Delete(p.id)
		return nil, err
	}
	owned = false
	return d, nil
}

// Submit queues the user message described by out for a pulled leg. The
// message is returned by the next pull request on the leg's partition
// channel. It returns the message ID.
func (e *Engine) Submit(ctx context.Context, out *Outbound) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	rm := out.Resources
	if rm == nil {
		rm = e.newResources()
	}
	owned := true
	defer func() {
		if owned {
			e.release(rm)
		}
	}()

	pm, err := e.pmodes.Resolve(ctx, out.PModeID)
	if err != nil {
		return "", err
	}
	leg, err := outboundLeg(pm, out)
	if err != nil {
		return "", err
	}
	if !pulledLeg(pm.Binding, leg) {
		return "", fmt.Errorf("%w: leg %d of %s", ErrPushLeg, leg, pm.ID)
	}

	p, err := e.prepare(ctx, pm, leg, out, rm, false)
	if err != nil {
		return "", err
	}

	tracker := e.scheduler.Tracker()
	if err := tracker.Begin(p.id, pm.PolicyForLeg(leg)); err != nil {
		return "", err
	}
	e.outbound.Store(p.id, pm.ID)

	mpc := legMPC(pm, leg)
	err = e.queue.Enqueue(ctx, &Queued{
		MessageID:  p.id,
		PModeID:    pm.ID,
		MPC:        mpc,
		Message:    p.msg,
		Resources:  rm,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		_ = tracker.Abort(p.id, err)
		e.outbound.Delete(p.id)
		return "", err
	}
	owned = false

	e.logger.Info("user message queued for pull",
		slog.String("message_id", p.id),
		slog.String("pmode_id", pm.ID),
		slog.String("mpc", mpc))
	return p.id, nil
}

// Pull sends a pull request on mpc, or the pulled leg's partition channel
// when mpc is empty, and receives the returned user message. It returns
// ErrEmptyPartition when nothing was waiting. The receipt or errors of the
// pulled message go to the leg's callback address, or else are pushed to
// the MSH the message was pulled from.
func (e *Engine) Pull(ctx context.Context, pmodeID, mpc string) (*InboundResult, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	pm, err := e.pmodes.Resolve(ctx, pmodeID)
	if err != nil {
		return nil, err
	}
	leg := 0
	for n := 1; n <= pm.LegCount(); n++ {
		if pulledLeg(pm.Binding, n) {
			leg = n
			break
		}
	}
	if leg == 0 {
		return nil, fmt.Errorf("%w: %s has no pulled leg", ErrPushLeg, pm.ID)
	}
	if mpc == "" {
		mpc = legMPC(pm, leg)
	}

	// the pulled user message travels from the other party to us
	sender, _ := senderParties(pm, leg, false)
	partyID := firstPartyID(sender)

	pr := message.NewPullRequest(mpc)
	doc, err := message.SignalEnvelope(pr).Document()
	if err != nil {
		return nil, err
	}
	if doc, err = e.sign(ctx, doc, pm, leg, partyID, signConfig(pm, leg), nil); err != nil {
		return nil, err
	}
	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize pull request: %w", err)
	}

	endpoint, err := e.endpoints.ResolveEndpoint(ctx, EndpointRequest{PMode: pm, Leg: leg, PartyID: partyID})
	if err != nil {
		return nil, err
	}

	log := e.logger.With(slog.String("message_id", pr.MessageInfo.MessageId), slog.String("pmode_id", pm.ID))
	log.Debug("sending pull request", slog.String("mpc", mpc), slog.String("endpoint", endpoint))

	resp, err := e.transport.Send(ctx, endpoint, bytes.NewReader(body), mime.ContentTypeSOAPXML+"; charset=UTF-8")
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) {
			if serr := statusSignal(se, pr.MessageInfo.MessageId); serr != nil {
				return nil, serr
			}
		}
		return nil, err
	}
	if resp.Empty() {
		return nil, ErrEmptyPartition
	}

	rm := e.newResources()
	defer e.release(rm)

	mm, err := mime.Parse(rm, bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	parsed, err := message.ParseEnvelope(mm.Envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	switch kind := kindOf(parsed.Messaging()); kind {
	case mep.KindUserMessage:
		if err := mep.CheckMessageAt(pm.MEP, pm.Binding, kind, leg); err != nil {
			return nil, err
		}
		res, err := e.receiveUserMessage(ctx, &received{parsed: parsed, msg: mm, rm: rm, pm: pm, leg: leg, pulled: true})
		if err != nil {
			var rej *RejectError
			if errors.As(err, &rej) {
				if out, serr := signalResponse(message.NewError(rej.MessageID, rej.Code, rej.Err.Error())); serr == nil {
					e.callback(ctx, endpoint, out, rej.MessageID)
				}
			}
			return nil, err
		}
		if !res.Reply.Empty() {
			e.callback(ctx, endpoint, res.Reply, res.MessageID)
			res.Reply = nil
		}
		return res, nil
	case mep.KindError:
		errs := parsed.Messaging().SignalMessage.Error
		if failures(errs) {
			return nil, &SignalError{RefToMessageID: pr.MessageInfo.MessageId, Errors: errs}
		}
		log.Debug("message partition channel is empty", slog.String("mpc", mpc))
		return nil, ErrEmptyPartition
	default:
		return nil, &mep.ViolationError{MEP: pm.MEP, Binding: pm.Binding, Kind: kind, Leg: leg}
	}
}

// attempt sends a prepared message once and interprets the response
func (e *Engine) attempt(ctx context.Context, p *prepared, endpoint string) error {
	body := p.msg.Reader()
	defer body.Close()

	resp, err := e.transport.Send(ctx, endpoint, body, p.msg.ContentType())
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) {
			if serr := statusSignal(se, p.id); serr != nil {
				return serr
			}
			return err
		}
		if errors.Is(err, attachment.ErrAlreadyConsumed) {
			return reliability.Permanent(err)
		}
		return err
	}
	return e.handleResponse(ctx, p, resp)
}

// handleResponse checks the back-channel response of a pushed user message
func (e *Engine) handleResponse(ctx context.Context, p *prepared, resp *transport.Response) error {
	if resp.Empty() {
		return e.noReceipt(p)
	}

	rm := e.newResources()
	defer e.release(rm)

	mm, err := mime.Parse(rm, bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		return reliability.Transient(fmt.Errorf("%w: %w", ErrInvalidMessage, err))
	}
	parsed, err := message.ParseEnvelope(mm.Envelope)
	if err != nil {
		return reliability.Transient(fmt.Errorf("%w: %w", ErrInvalidMessage, err))
	}

	m := parsed.Messaging()
	kind := kindOf(m)
	if kind == mep.KindError && failures(m.SignalMessage.Error) {
		e.notifySignal(ctx, parsed, mm, rm, p)
		return &SignalError{RefToMessageID: p.id, Errors: m.SignalMessage.Error}
	}
	if err := mep.CheckMessageAt(p.pm.MEP, p.pm.Binding, kind, p.leg); err != nil {
		return err
	}

	switch kind {
	case mep.KindReceipt:
		if ref := parsed.RefToMessageID(); ref != p.id {
			return fmt.Errorf("%w: receipt refers to %q", ErrMissingReceipt, ref)
		}
		e.notifySignal(ctx, parsed, mm, rm, p)
		return nil
	case mep.KindUserMessage:
		res, err := e.receiveUserMessage(ctx, &received{parsed: parsed, msg: mm, rm: rm, pm: p.pm, leg: p.leg, inResponse: true})
		if err != nil {
			return reliability.Permanent(err)
		}
		if !res.Processed && !res.Duplicate {
			e.logger.Warn("response user message rejected by processor",
				slog.String("message_id", res.MessageID),
				slog.String("pmode_id", p.pm.ID))
		}
		return nil
	default:
		// warnings only
		e.notifySignal(ctx, parsed, mm, rm, p)
		return e.noReceipt(p)
	}
}

func (e *Engine) notifySignal(ctx context.Context, parsed *message.Parsed, mm *mime.Message, rm *attachment.ResourceManager, p *prepared) {
	_, _ = e.receiveSignal(ctx, &received{parsed: parsed, msg: mm, rm: rm, pm: p.pm, leg: p.leg, inResponse: true})
}

// noReceipt decides the outcome of an attempt answered without a signal.
// With reception awareness the attempt is retried until a receipt arrives,
// possibly by callback.
func (e *Engine) noReceipt(p *prepared) error {
	policy := p.pm.PolicyForLeg(p.leg)
	if policy.RetryEnabled() && sendReceiptOf(p.pm.Leg(p.leg)).Enabled {
		return reliability.Transient(ErrMissingReceipt)
	}
	return nil
}

// statusSignal extracts an ebMS error signal from a failed HTTP response
func statusSignal(se *transport.StatusError, ref string) error {
	if len(se.Body) == 0 {
		return nil
	}
	parsed, err := message.ParseEnvelope(se.Body)
	if err != nil {
		return nil
	}
	sm := parsed.Messaging().SignalMessage
	if sm == nil || !failures(sm.Error) {
		return nil
	}
	return &SignalError{RefToMessageID: ref, Errors: sm.Error}
}

// responseMessage builds the user message a Processor returns on the
// back-channel of a received user message
func (e *Engine) responseMessage(ctx context.Context, pm *pmode.PMode, leg int, parsed *message.Parsed, resp *Response) (*transport.Response, error) {
	id := parsed.MessageID()
	respLeg := mep.Exchange{MEP: pm.MEP, Binding: pm.Binding, RefToMessageID: id}.Leg()
	if pm.Leg(respLeg) == nil {
		respLeg = leg
	}

	out := &Outbound{
		RefToMessageID: id,
		FromPartyID:    firstPartyID(partyOf(parsed, false)),
		ToPartyID:      parsed.FromPartyID(),
		Service:        resp.Service,
		Action:         resp.Action,
		Properties:     resp.Properties,
		Payloads:       resp.Payloads,
		Attachments:    resp.Attachments,
	}
	if um := parsed.Messaging().UserMessage; um != nil && um.CollaborationInfo != nil {
		out.ConversationID = um.CollaborationInfo.ConversationId
	}

	rm := e.newResources()
	defer e.release(rm)

	p, err := e.prepare(ctx, pm, respLeg, out, rm, respLeg == leg)
	if err != nil {
		return nil, err
	}
	body, ct, err := p.msg.Serialize()
	if err != nil {
		return nil, err
	}
	e.logger.Info("returning response user message",
		slog.String("message_id", p.id),
		slog.String("ref_to_message_id", id),
		slog.String("pmode_id", pm.ID))
	return &transport.Response{ContentType: ct, Body: body}, nil
}

// prepare builds, signs and packages the user message of out on leg.
// responding is set for user messages returned on a back-channel, which
// travel from the receiving party of the leg.
func (e *Engine) prepare(ctx context.Context, pm *pmode.PMode, leg int, out *Outbound, rm *attachment.ResourceManager, responding bool) (*prepared, error) {
	l := pm.Leg(leg)
	if l == nil {
		return nil, fmt.Errorf("%w: leg %d of %s", ErrNoLeg, leg, pm.ID)
	}

	atts := append([]*attachment.Attachment(nil), out.Attachments...)
	mode := pm.CompressionForLeg(leg)
	for _, pl := range out.Payloads {
		att, err := payloadAttachment(rm, pl, mode)
		if err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}

	from, to := senderParties(pm, leg, responding)
	p := &prepared{pm: pm, leg: leg, service: out.Service, action: out.Action}

	opts := []message.Option{
		message.WithMessageId(out.MessageID),
		message.WithConversationId(out.ConversationID),
		message.WithRefToMessageId(out.RefToMessageID),
	}
	opts = append(opts, partyOptions(from, out.FromPartyID, message.WithFrom, message.WithFromRole)...)
	opts = append(opts, partyOptions(to, out.ToPartyID, message.WithTo, message.WithToRole)...)
	p.toParty = lo.Ternary(out.ToPartyID != "", out.ToPartyID, firstPartyID(to))

	if bi := l.BusinessInfo; bi != nil {
		p.service = lo.Ternary(p.service != "", p.service, bi.Service)
		p.action = lo.Ternary(p.action != "", p.action, bi.Action)
		if bi.ServiceType != "" {
			opts = append(opts, message.WithServiceType(bi.ServiceType))
		}
		if bi.MPC != "" {
			opts = append(opts, message.WithMPC(bi.MPC))
		}
	}
	opts = append(opts, message.WithService(p.service), message.WithAction(p.action))

	agreement := ""
	if pm.Agreement != nil {
		agreement = pm.Agreement.Name
	}
	opts = append(opts, message.WithAgreementRef(agreement, pm.ID))
	for _, prop := range out.Properties {
		opts = append(opts, message.WithMessageProperty(prop.Name, prop.Value))
	}
	opts = append(opts, message.WithPayloadInfo(false, lo.Map(atts, func(a *attachment.Attachment, _ int) message.PartDescriptor {
		return a.Descriptor()
	})))

	env, err := message.NewUserMessage(opts...).BuildEnvelope(out.BuildOptions...)
	if err != nil {
		return nil, err
	}
	p.id = env.Header.Messaging.UserMessage.MessageInfo.MessageId

	doc, err := env.Document()
	if err != nil {
		return nil, err
	}
	if doc, err = e.sign(ctx, doc, pm, leg, p.toParty, signConfig(pm, leg), atts); err != nil {
		return nil, err
	}
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize envelope: %w", err)
	}
	p.msg = mime.NewMessage(data, atts)
	return p, nil
}

func payloadAttachment(rm *attachment.ResourceManager, pl Payload, mode compression.Mode) (*attachment.Attachment, error) {
	var opts []attachment.Option
	if pl.ContentID != "" {
		opts = append(opts, attachment.WithContentID(pl.ContentID))
	}
	if pl.Charset != "" {
		opts = append(opts, attachment.WithCharset(pl.Charset))
	}
	if pl.Filename != "" {
		opts = append(opts, attachment.WithFilename(pl.Filename))
	}
	if pl.Description != "" {
		opts = append(opts, attachment.WithDescription(pl.Description))
	}
	for _, prop := range pl.Properties {
		opts = append(opts, attachment.WithPartProperty(prop.Name, prop.Value))
	}
	if !compression.ShouldCompress(pl.MIMEType) {
		mode = compression.None
	}
	att, err := attachment.FromBytes(rm, pl.Data, pl.MIMEType, mode, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}
	return att, nil
}

// sign applies cfg to doc. Without a signing configuration or a Crypto the
// document is returned unchanged.
func (e *Engine) sign(ctx context.Context, doc *etree.Document, pm *pmode.PMode, leg int, partyID string,
	cfg *pmode.SignConfig, atts []*attachment.Attachment) (*etree.Document, error) {
	if cfg == nil || e.crypto == nil {
		return doc, nil
	}
	signed, err := e.crypto.Sign(ctx, doc, SigningParams{
		PModeID: pm.ID,
		Leg:     leg,
		PartyID: partyID,
		Profile: pm.SecurityProfile,
		Sign:    cfg,
	}, atts)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed, nil
}

func signConfig(pm *pmode.PMode, leg int) *pmode.SignConfig {
	if l := pm.Leg(leg); l != nil && l.Security != nil {
		return l.Security.Sign
	}
	return nil
}

// outboundLeg returns the leg a new user message travels on
func outboundLeg(pm *pmode.PMode, out *Outbound) (int, error) {
	leg := mep.Exchange{MEP: pm.MEP, Binding: pm.Binding, MessageID: out.MessageID, RefToMessageID: out.RefToMessageID}.Leg()
	if pm.Leg(leg) == nil {
		return 0, fmt.Errorf("%w: leg %d of %s", ErrNoLeg, leg, pm.ID)
	}
	return leg, nil
}

// senderParties returns the sending and receiving party of a user message
// on leg. Pulled first legs are sent by the responder; the second leg and
// back-channel responses reverse the direction.
func senderParties(pm *pmode.PMode, leg int, responding bool) (from, to *pmode.Party) {
	fromResponder := pulledLeg(pm.Binding, 1)
	if leg == 2 {
		fromResponder = !fromResponder
	}
	if responding {
		fromResponder = !fromResponder
	}
	if fromResponder {
		return pm.Responder, pm.Initiator
	}
	return pm.Initiator, pm.Responder
}

func partyOptions(p *pmode.Party, override string, id func(string, string) message.Option, role func(string) message.Option) []message.Option {
	var opts []message.Option
	switch {
	case override != "":
		opts = append(opts, id(override, partyType(p)))
	case p != nil && len(p.IDs) > 0:
		opts = append(opts, id(p.IDs[0].Value, p.IDs[0].Type))
	}
	if p != nil {
		opts = append(opts, role(p.Role))
	}
	return opts
}

func partyType(p *pmode.Party) string {
	if p == nil || len(p.IDs) == 0 {
		return ""
	}
	return p.IDs[0].Type
}

func firstPartyID(p *pmode.Party) string {
	if p == nil || len(p.IDs) == 0 {
		return ""
	}
	return p.IDs[0].Value
}

// partyOf returns the receiving party of a received user message as a
// PMode party
func partyOf(parsed *message.Parsed, from bool) *pmode.Party {
	um := parsed.Messaging().UserMessage
	if um == nil || um.PartyInfo == nil {
		return nil
	}
	mp := um.PartyInfo.To
	if from {
		mp = um.PartyInfo.From
	}
	if mp == nil {
		return nil
	}
	return &pmode.Party{
		Role: mp.Role,
		IDs: lo.Map(mp.PartyId, func(id message.PartyId, _ int) pmode.PartyID {
			return pmode.PartyID{Value: id.Value, Type: id.Type}
		}),
	}
}
