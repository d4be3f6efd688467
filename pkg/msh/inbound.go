package msh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sirosfoundation/go-ebms/pkg/attachment"
	"github.com/sirosfoundation/go-ebms/pkg/mep"
	"github.com/sirosfoundation/go-ebms/pkg/message"
	"github.com/sirosfoundation/go-ebms/pkg/mime"
	"github.com/sirosfoundation/go-ebms/pkg/pmode"
	"github.com/sirosfoundation/go-ebms/pkg/reliability"
	"github.com/sirosfoundation/go-ebms/pkg/transport"
)

// received is a parsed inbound message on its way through the pipeline
type received struct {
	parsed *message.Parsed
	msg    *mime.Message
	rm     *attachment.ResourceManager

	// pmodeID overrides the AgreementRef of the message
	pmodeID string
	// pm and leg are set when the message arrived on the back-channel of
	// an exchange this engine started
	pm  *pmode.PMode
	leg int

	pulled     bool
	inResponse bool
}

// replyMode is what the back-channel of a leg may carry
type replyMode int

const (
	replySignal replyMode = iota + 1
	replyUserMessage
	// replyPulled marks a pulled user message. Its signals are pushed to
	// the MSH it was pulled from.
	replyPulled
)

// replyModeFor decides whether the back-channel of leg carries user
// messages or receipts and errors. Legs allowing neither reject the
// exchange with a *mep.ViolationError.
func replyModeFor(pm *pmode.PMode, leg int) (replyMode, error) {
	ok, err := mep.IsValidMessageAt(pm.MEP, pm.Binding, mep.KindUserMessage, leg)
	if err != nil {
		return 0, err
	}
	if ok {
		return replyUserMessage, nil
	}
	if err := mep.CheckMessageAt(pm.MEP, pm.Binding, mep.KindReceipt, leg); err != nil {
		return 0, err
	}
	return replySignal, nil
}

// Receive processes one inbound message: it resolves the PMode, checks the
// exchange pattern, decrypts, detects duplicates, hands the message to the
// Processor and builds the reply. Messages rejected before processing
// return a *RejectError. The attachments of the message are released
// before Receive returns.
func (e *Engine) Receive(ctx context.Context, in *Inbound) (*InboundResult, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}

	rm := e.newResources()
	defer e.release(rm)

	mm, err := mime.Parse(rm, in.Body, in.ContentType)
	if err != nil {
		return nil, &RejectError{Code: message.ErrorValueNotRecognized, Err: fmt.Errorf("%w: %w", ErrInvalidMessage, err)}
	}
	parsed, err := message.ParseEnvelope(mm.Envelope)
	if err != nil {
		return nil, &RejectError{Code: message.ErrorValueNotRecognized, Err: fmt.Errorf("%w: %w", ErrInvalidMessage, err)}
	}

	return e.receive(ctx, &received{parsed: parsed, msg: mm, rm: rm, pmodeID: in.PModeID})
}

func (e *Engine) receive(ctx context.Context, r *received) (*InboundResult, error) {
	switch kindOf(r.parsed.Messaging()) {
	case mep.KindUserMessage:
		return e.receiveUserMessage(ctx, r)
	case mep.KindPullRequest:
		return e.receivePullRequest(ctx, r)
	default:
		return e.receiveSignal(ctx, r)
	}
}

func (e *Engine) receiveUserMessage(ctx context.Context, r *received) (*InboundResult, error) {
	id := r.parsed.MessageID()
	if id == "" {
		return nil, &RejectError{Code: message.ErrorValueInconsistent, Err: fmt.Errorf("%w: missing MessageId", ErrInvalidMessage)}
	}
	res := &InboundResult{MessageID: id, Kind: mep.KindUserMessage}

	pm, leg := r.pm, r.leg
	if pm == nil {
		ref := r.pmodeID
		if ref == "" {
			ref = r.parsed.PModeRef()
		}
		var err error
		pm, err = e.pmodes.Resolve(ctx, ref)
		if err != nil {
			if errors.Is(err, pmode.ErrNotFound) {
				return nil, &RejectError{MessageID: id, Code: message.ErrorProcessingModeMismatch, Err: err}
			}
			return nil, err
		}
		leg = mep.Exchange{MEP: pm.MEP, Binding: pm.Binding, MessageID: id, RefToMessageID: r.parsed.RefToMessageID()}.Leg()
	}
	res.PModeID, res.Leg = pm.ID, leg
	log := e.logger.With(slog.String("message_id", id), slog.String("pmode_id", pm.ID))

	mode, err := replyModeFor(pm, leg)
	if err != nil {
		log.Warn("user message violates exchange pattern", slog.Any("error", err))
		return nil, &RejectError{MessageID: id, Code: message.ErrorProcessingModeMismatch, Err: err}
	}
	if r.pulled {
		mode = replyPulled
	}

	parsed := r.parsed
	state := &ProcessState{Document: parsed.Document, Pulled: r.pulled}
	if l := pm.Leg(leg); e.crypto != nil && l != nil && l.Security != nil && l.Security.Encryption != nil {
		dec, err := e.crypto.Decrypt(ctx, parsed.Document, DecryptParams{
			PModeID:    pm.ID,
			Leg:        leg,
			PartyID:    parsed.FromPartyID(),
			Profile:    pm.SecurityProfile,
			Encryption: l.Security.Encryption,
		}, r.msg.Attachments)
		if err != nil {
			return nil, &RejectError{MessageID: id, Code: message.ErrorFailedDecryption, Err: err}
		}
		if dec.Attachments != nil {
			r.msg.Attachments = dec.Attachments
		}
		if dec.Document != nil {
			if parsed, err = message.ParseDocument(dec.Document); err != nil {
				return nil, &RejectError{MessageID: id, Code: message.ErrorFailedDecryption, Err: err}
			}
		}
		state.Decrypted = true
		state.Document = parsed.Document
	}
	state.Signed = len(message.SignatureReferences(parsed.Document)) > 0

	um := parsed.Messaging().UserMessage
	if err := r.msg.Correlate(um); err != nil {
		return nil, &RejectError{MessageID: id, Code: message.ErrorValueInconsistent, Err: err}
	}

	policy := pm.PolicyForLeg(leg)
	key := reliability.Key{PartyID: parsed.FromPartyID(), MessageID: id}
	claimed := false
	if policy.DetectDuplicates() {
		claim, err := e.ledger.Claim(ctx, key, policy.DuplicateWindow)
		if err != nil {
			return nil, fmt.Errorf("duplicate detection for %s: %w", id, err)
		}
		if claim == reliability.Duplicate {
			log.Info("duplicate user message acknowledged without processing")
			return e.replayDuplicate(ctx, res, key, pm, leg, parsed, mode)
		}
		claimed = true
	}

	meta := metadataOf(parsed, pm, leg, mep.KindUserMessage)
	pr := e.processor.ProcessUserMessage(ctx, meta, soapHeader(parsed.Document), um, pm,
		soapPayload(parsed.Document), r.msg.Attachments, state)

	// the ledger outcome must be recorded even if the caller gave up
	cleanup := context.WithoutCancel(ctx)
	if !pr.Success {
		if claimed {
			if err := e.ledger.Release(cleanup, key); err != nil {
				log.Warn("failed to release duplicate detection claim", slog.Any("error", err))
			}
		}
		res.Errors = processErrors(id, pr.Errors)
		log.Info("user message rejected by processor", slog.Int("errors", len(res.Errors)))
		return res, e.replyErrors(ctx, res, pm, leg, mode)
	}
	res.Processed = true
	log.Debug("user message processed", slog.Int("leg", leg), slog.Int("attachments", len(r.msg.Attachments)))

	receipt, ackErr := e.acknowledge(ctx, res, pm, leg, parsed, mode, pr.Response)
	if claimed {
		var stored []byte
		if receipt != nil {
			stored = receipt.Body
		}
		if err := e.ledger.Commit(cleanup, key, stored); err != nil {
			log.Warn("failed to record processed message", slog.Any("error", err))
		}
	}
	return res, ackErr
}

// acknowledge builds the reply of a processed user message. It returns the
// receipt, if one was built, for replay to duplicates.
func (e *Engine) acknowledge(ctx context.Context, res *InboundResult, pm *pmode.PMode, leg int,
	parsed *message.Parsed, mode replyMode, resp *Response) (*transport.Response, error) {
	if mode == replyUserMessage && resp != nil {
		out, err := e.responseMessage(ctx, pm, leg, parsed, resp)
		if err != nil {
			return nil, fmt.Errorf("failed to build response message: %w", err)
		}
		res.Reply = out
		return nil, nil
	}

	sr := sendReceiptOf(pm.Leg(leg))
	if !sr.Enabled {
		return nil, nil
	}

	receipt, err := message.BuildReceipt(res.MessageID, nil, parsed.Document, sr.NonRepudiation)
	if err != nil {
		return nil, fmt.Errorf("failed to build receipt: %w", err)
	}
	doc := receipt.Document()
	if sr.Signed {
		cfg := signConfig(pm, leg)
		if cfg == nil {
			cfg = pmode.DefaultSignConfig(pm.SecurityProfile)
		}
		if doc, err = e.sign(ctx, doc, pm, leg, parsed.FromPartyID(), cfg, nil); err != nil {
			return nil, err
		}
	}
	out, err := documentResponse(doc)
	if err != nil {
		return nil, err
	}
	e.routeReceipt(ctx, res, pm, leg, mode, out)
	return out, nil
}

// routeReceipt returns the receipt on the back-channel or posts it to the
// callback address
func (e *Engine) routeReceipt(ctx context.Context, res *InboundResult, pm *pmode.PMode, leg int, mode replyMode, out *transport.Response) {
	sr := sendReceiptOf(pm.Leg(leg))
	switch {
	case sr.ReplyPattern == pmode.ReplyCallback && sr.ReplyTo != "":
		e.callback(ctx, sr.ReplyTo, out, res.MessageID)
	case mode == replySignal, mode == replyPulled:
		res.Reply = out
	default:
		e.logger.Debug("receipt not returned; back-channel carries user messages",
			slog.String("message_id", res.MessageID), slog.String("pmode_id", pm.ID))
	}
}

func (e *Engine) replayDuplicate(ctx context.Context, res *InboundResult, key reliability.Key, pm *pmode.PMode, leg int,
	parsed *message.Parsed, mode replyMode) (*InboundResult, error) {
	res.Duplicate = true

	entry, ok, err := e.ledger.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("duplicate detection for %s: %w", key.MessageID, err)
	}
	if ok && entry.Committed && len(entry.Receipt) > 0 {
		out := &transport.Response{ContentType: mime.ContentTypeSOAPXML + "; charset=UTF-8", Body: entry.Receipt}
		e.routeReceipt(ctx, res, pm, leg, mode, out)
		return res, nil
	}

	// still in progress elsewhere or processed without a stored receipt
	_, err = e.acknowledge(ctx, res, pm, leg, parsed, mode, nil)
	return res, err
}

// replyErrors returns the processing errors on the back-channel or posts
// them to the receiver errors address
func (e *Engine) replyErrors(ctx context.Context, res *InboundResult, pm *pmode.PMode, leg int, mode replyMode) error {
	out, err := signalResponse(errorSignal(res.MessageID, res.Errors))
	if err != nil {
		return err
	}

	var eh *pmode.ErrorHandling
	if l := pm.Leg(leg); l != nil {
		eh = l.ErrorHandling
	}
	switch {
	case eh != nil && !eh.AsResponse && eh.ReceiverErrorsTo != "":
		e.callback(ctx, eh.ReceiverErrorsTo, out, res.MessageID)
	case mode == replySignal, mode == replyPulled:
		res.Reply = out
	default:
		e.logger.Warn("processing errors not returned; back-channel carries user messages",
			slog.String("message_id", res.MessageID), slog.String("pmode_id", pm.ID))
	}
	return nil
}

// receiveSignal handles receipts and errors for messages this engine sent
func (e *Engine) receiveSignal(ctx context.Context, r *received) (*InboundResult, error) {
	m := r.parsed.Messaging()
	sm := m.SignalMessage
	kind := kindOf(m)
	ref := r.parsed.RefToMessageID()
	if ref == "" && len(sm.Error) > 0 {
		ref = sm.Error[0].RefToMessageInError
	}

	res := &InboundResult{MessageID: r.parsed.MessageID(), Kind: kind, Errors: sm.Error, Leg: r.leg}
	pm := r.pm
	if pm == nil {
		pm = e.outboundPMode(ctx, ref)
	}
	if pm != nil {
		res.PModeID = pm.ID
	}

	if !r.inResponse && ref != "" {
		e.settle(ref, kind, sm)
	}

	meta := metadataOf(r.parsed, pm, r.leg, kind)
	state := &ProcessState{Document: r.parsed.Document, Signed: len(message.SignatureReferences(r.parsed.Document)) > 0}
	pr := e.processor.ProcessSignalMessage(ctx, meta, soapHeader(r.parsed.Document), sm, pm, state)
	res.Processed = pr.Success
	return res, nil
}

// settle completes the outbound delivery a callback signal refers to
func (e *Engine) settle(ref string, kind mep.MessageKind, sm *message.SignalMessage) {
	var err error
	switch {
	case kind == mep.KindReceipt:
		err = e.scheduler.Acknowledge(ref)
	case kind == mep.KindError && failures(sm.Error):
		err = e.scheduler.Reject(ref, &SignalError{RefToMessageID: ref, Errors: sm.Error})
	default:
		return
	}
	if err != nil {
		e.logger.Debug("signal does not match a pending delivery",
			slog.String("message_id", ref), slog.String("kind", kind.String()), slog.Any("error", err))
		return
	}
	e.outbound.Delete(ref)
}

func (e *Engine) outboundPMode(ctx context.Context, messageID string) *pmode.PMode {
	v, ok := e.outbound.Load(messageID)
	if !ok {
		return nil
	}
	pm, err := e.pmodes.GetByID(ctx, v.(string))
	if err != nil {
		return nil
	}
	return pm
}

// receivePullRequest answers a pull request with the next queued user
// message of the partition channel, or an EBMS:0006 warning
func (e *Engine) receivePullRequest(ctx context.Context, r *received) (*InboundResult, error) {
	sm := r.parsed.Messaging().SignalMessage
	id := r.parsed.MessageID()
	mpc := normalizeMPC(sm.PullRequest.MPC)
	res := &InboundResult{MessageID: id, Kind: mep.KindPullRequest}

	pm, leg, err := e.pmodeForMPC(ctx, mpc)
	if err != nil {
		return nil, &RejectError{MessageID: id, Code: message.ErrorProcessingModeMismatch, Err: err}
	}
	res.PModeID, res.Leg = pm.ID, leg
	if err := mep.CheckMessageAt(pm.MEP, pm.Binding, mep.KindUserMessage, leg); err != nil {
		return nil, &RejectError{MessageID: id, Code: message.ErrorProcessingModeMismatch, Err: err}
	}

	meta := metadataOf(r.parsed, pm, leg, mep.KindPullRequest)
	state := &ProcessState{Document: r.parsed.Document, Signed: len(message.SignatureReferences(r.parsed.Document)) > 0}
	if pr := e.processor.ProcessSignalMessage(ctx, meta, soapHeader(r.parsed.Document), sm, pm, state); !pr.Success {
		res.Errors = processErrors(id, pr.Errors)
		out, err := signalResponse(errorSignal(id, res.Errors))
		if err != nil {
			return nil, err
		}
		res.Reply = out
		return res, nil
	}
	res.Processed = true

	item, err := e.queue.Dequeue(ctx, mpc)
	if err != nil {
		return nil, fmt.Errorf("pull from %s: %w", mpc, err)
	}
	if item == nil {
		warning := message.NewError(id, message.ErrorEmptyMessagePartition, "no message available on "+mpc)
		res.Errors = warning.Error
		res.Reply, err = signalResponse(warning)
		return res, err
	}
	defer e.release(item.Resources)

	body, ct, err := item.Message.Serialize()
	if err != nil {
		if rerr := e.scheduler.Reject(item.MessageID, err); rerr != nil {
			e.logger.Debug("pulled message was not tracked", slog.String("message_id", item.MessageID))
		}
		return nil, fmt.Errorf("failed to serialize pulled message %s: %w", item.MessageID, err)
	}
	if _, err := e.scheduler.Tracker().RecordAttempt(item.MessageID); err != nil {
		e.logger.Debug("pulled message was not tracked", slog.String("message_id", item.MessageID), slog.Any("error", err))
	}
	e.logger.Info("user message pulled",
		slog.String("message_id", item.MessageID),
		slog.String("pmode_id", item.PModeID),
		slog.String("mpc", mpc))
	res.Reply = &transport.Response{ContentType: ct, Body: body}
	return res, nil
}

// pmodeForMPC finds the PMode and leg whose user messages are pulled from mpc
func (e *Engine) pmodeForMPC(ctx context.Context, mpc string) (*pmode.PMode, int, error) {
	pms, err := e.pmodes.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	for _, pm := range pms {
		for leg := 1; leg <= pm.LegCount(); leg++ {
			if pulledLeg(pm.Binding, leg) && legMPC(pm, leg) == mpc {
				return pm, leg, nil
			}
		}
	}
	return nil, 0, fmt.Errorf("%w: no PMode pulls from %s", pmode.ErrNotFound, mpc)
}

func legMPC(pm *pmode.PMode, leg int) string {
	if l := pm.Leg(leg); l != nil && l.BusinessInfo != nil {
		return normalizeMPC(l.BusinessInfo.MPC)
	}
	return message.DefaultMPC
}

// sendReceiptOf returns the receipt settings of a leg. Receipts are
// returned on the response by default.
func sendReceiptOf(l *pmode.Leg) pmode.SendReceipt {
	if l == nil || l.Security == nil || l.Security.SendReceipt == nil {
		return pmode.SendReceipt{Enabled: true, ReplyPattern: pmode.ReplyResponse}
	}
	return *l.Security.SendReceipt
}

func metadataOf(parsed *message.Parsed, pm *pmode.PMode, leg int, kind mep.MessageKind) *Metadata {
	md := &Metadata{
		MessageID:      parsed.MessageID(),
		RefToMessageID: parsed.RefToMessageID(),
		Leg:            leg,
		Kind:           kind,
		FromPartyID:    parsed.FromPartyID(),
		Direction:      DirectionInbound,
		ReceivedAt:     time.Now().UTC(),
	}
	if pm != nil {
		md.PModeID = pm.ID
	}
	if um := parsed.Messaging().UserMessage; um != nil && um.CollaborationInfo != nil {
		md.ConversationID = um.CollaborationInfo.ConversationId
		md.Service = um.CollaborationInfo.Service.Value
		md.Action = um.CollaborationInfo.Action
	}
	return md
}

func processErrors(ref string, errs []ProcessError) []message.Error {
	if len(errs) == 0 {
		errs = []ProcessError{{Code: message.ErrorDeliveryFailure, Description: "message processing failed"}}
	}
	out := make([]message.Error, 0, len(errs))
	for _, pe := range errs {
		out = append(out, message.NewError(ref, pe.Code, pe.Description).Error...)
	}
	return out
}

func errorSignal(ref string, errs []message.Error) *message.SignalMessage {
	sm := message.NewError(ref, message.ErrorOther, "")
	sm.Error = errs
	return sm
}
