package msh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-ebms/pkg/attachment"
	"github.com/sirosfoundation/go-ebms/pkg/mep"
	"github.com/sirosfoundation/go-ebms/pkg/message"
	"github.com/sirosfoundation/go-ebms/pkg/mime"
	"github.com/sirosfoundation/go-ebms/pkg/pmode"
	"github.com/sirosfoundation/go-ebms/pkg/reliability"
	"github.com/sirosfoundation/go-ebms/pkg/transport"
)

var (
	// ErrInvalidMessage is returned for malformed messages
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNoLeg is returned when the PMode does not define the leg a message travels on
	ErrNoLeg = errors.New("msh: PMode has no such leg")
	// ErrPullLeg is returned by Send for legs whose user messages are pulled
	ErrPullLeg = errors.New("msh: leg is pulled; use Submit")
	// ErrPushLeg is returned by Submit and Pull for legs whose user messages are pushed
	ErrPushLeg = errors.New("msh: leg is pushed")
	// ErrEmptyPartition is returned by Pull when no message was waiting
	ErrEmptyPartition = errors.New("msh: message partition channel is empty")
	// ErrMissingReceipt is the transient failure of a push without a receipt
	ErrMissingReceipt = errors.New("msh: no receipt received")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("msh: engine closed")
)

// Config holds the collaborators of an Engine. Only PModes is required.
type Config struct {
	PModes *pmode.Resolver
	// Ledger records received message IDs; defaults to a MemoryLedger
	Ledger reliability.Ledger
	// Scheduler runs outbound retries; defaults to a new Scheduler
	Scheduler *reliability.Scheduler
	// Crypto signs and decrypts; nil disables WS-Security processing
	Crypto Crypto
	// Processor receives accepted messages; nil accepts everything
	Processor Processor
	// Transport defaults to an HTTPS client with default TLS settings
	Transport Transport
	// Endpoints defaults to the PMode leg address
	Endpoints EndpointResolver
	// Queue holds messages for pull bindings; defaults to a MemoryQueue
	Queue PullQueue
	// TempDir receives spooled attachments
	TempDir string
	// Retention is how long finished outbound messages stay tracked, and
	// how long a submitted message waits for its receipt. It defaults to
	// pmode.DefaultDuplicateWindow and should not be shorter than the
	// duplicate windows of the PModes in use.
	Retention time.Duration
	Logger    *slog.Logger
}

// pruneInterval bounds how often outbound state is pruned
const pruneInterval = time.Minute

// Engine is the message service handler. All state lives in the engine
// value; several engines can run side by side.
type Engine struct {
	pmodes    *pmode.Resolver
	ledger    reliability.Ledger
	scheduler *reliability.Scheduler
	crypto    Crypto
	processor Processor
	transport Transport
	endpoints EndpointResolver
	queue     PullQueue
	tempDir   string
	retention time.Duration
	logger    *slog.Logger

	// outbound maps in-flight message IDs to their PMode
	outbound sync.Map
	closers  []io.Closer
	stop     func()
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an engine from cfg
func New(cfg Config) (*Engine, error) {
	if cfg.PModes == nil {
		return nil, errors.New("msh: PMode resolver is required")
	}

	e := &Engine{
		pmodes:    cfg.PModes,
		ledger:    cfg.Ledger,
		scheduler: cfg.Scheduler,
		crypto:    cfg.Crypto,
		processor: cfg.Processor,
		transport: cfg.Transport,
		endpoints: cfg.Endpoints,
		queue:     cfg.Queue,
		tempDir:   cfg.TempDir,
		retention: cfg.Retention,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.ledger == nil {
		l := reliability.NewMemoryLedger(reliability.WithJanitor(time.Minute))
		e.ledger = l
		e.closers = append(e.closers, l)
	}
	if e.scheduler == nil {
		s := reliability.NewScheduler(nil, e.logger)
		e.scheduler = s
		e.stop = s.Stop
	}
	if e.transport == nil {
		e.transport = transport.NewHTTPSClient(nil)
	}
	if e.endpoints == nil {
		e.endpoints = LegAddressResolver{}
	}
	if e.queue == nil {
		q := NewMemoryQueue()
		e.queue = q
		e.closers = append(e.closers, q)
	}
	if e.processor == nil {
		e.processor = acceptAll{}
	}
	if e.retention <= 0 {
		e.retention = pmode.DefaultDuplicateWindow
	}

	e.wg.Add(1)
	go e.janitor(min(e.retention, pruneInterval))
	return e, nil
}

// Close stops pending retries, waits for callbacks in flight and releases
// the components the engine created itself
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.done)
	if e.stop != nil {
		e.stop()
	}
	e.wg.Wait()

	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) janitor(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.prune(e.retention)
		}
	}
}

// prune forgets outbound messages idle or finished for longer than retention
func (e *Engine) prune(retention time.Duration) int {
	ids := e.scheduler.Prune(retention)
	for _, id := range ids {
		e.outbound.Delete(id)
	}
	if len(ids) > 0 {
		e.logger.Debug("pruned outbound message state", slog.Int("count", len(ids)))
	}
	return len(ids)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Handle implements transport.Handler. Rejected messages are answered
// with an ebMS Error signal and status 400.
func (e *Engine) Handle(ctx context.Context, body io.Reader, contentType string) (*transport.Response, error) {
	res, err := e.Receive(ctx, &Inbound{Body: body, ContentType: contentType})
	if err != nil {
		var rej *RejectError
		if !errors.As(err, &rej) {
			return nil, err
		}
		resp, serr := signalResponse(message.NewError(rej.MessageID, rej.Code, rej.Err.Error()))
		if serr != nil {
			return nil, errors.Join(err, serr)
		}
		resp.Status = http.StatusBadRequest
		return resp, nil
	}
	return res.Reply, nil
}

func (e *Engine) newResources() *attachment.ResourceManager {
	opts := []attachment.ResourceManagerOption{attachment.WithLogger(e.logger)}
	if e.tempDir != "" {
		opts = append(opts, attachment.WithTempDir(e.tempDir))
	}
	return attachment.NewResourceManager(opts...)
}

// release closes rm. Close is not cancellable; failures are logged.
func (e *Engine) release(rm *attachment.ResourceManager) {
	if rm == nil {
		return
	}
	for _, err := range rm.Close() {
		e.logger.Warn("failed to release message resources", slog.Any("error", err))
	}
}

// callback posts body to url in the background
func (e *Engine) callback(ctx context.Context, url string, resp *transport.Response, messageID string) {
	if e.isClosed() {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, err := e.transport.Send(context.WithoutCancel(ctx), url, bytes.NewReader(resp.Body), resp.ContentType)
		if err != nil {
			e.logger.Warn("callback delivery failed",
				slog.String("message_id", messageID),
				slog.String("endpoint", url),
				slog.Any("error", err))
			return
		}
		e.logger.Debug("callback delivered", slog.String("message_id", messageID), slog.String("endpoint", url))
	}()
}

func kindOf(m *message.Messaging) mep.MessageKind {
	switch {
	case m.UserMessage != nil:
		return mep.KindUserMessage
	case m.SignalMessage.PullRequest != nil:
		return mep.KindPullRequest
	case len(m.SignalMessage.Error) > 0:
		return mep.KindError
	default:
		return mep.KindReceipt
	}
}

// pulledLeg reports whether user messages on leg travel in pull responses
func pulledLeg(b mep.Binding, leg int) bool {
	switch b {
	case mep.Pull, mep.PullAndPush:
		return leg == 1
	case mep.PushAndPull:
		return leg == 2
	default:
		return false
	}
}

func failures(errs []message.Error) bool {
	for _, er := range errs {
		if er.Severity != message.SeverityWarning {
			return true
		}
	}
	return false
}

func documentResponse(doc *etree.Document) (*transport.Response, error) {
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signal: %w", err)
	}
	return &transport.Response{ContentType: mime.ContentTypeSOAPXML + "; charset=UTF-8", Body: data}, nil
}

func signalResponse(sm *message.SignalMessage) (*transport.Response, error) {
	doc, err := message.SignalEnvelope(sm).Document()
	if err != nil {
		return nil, err
	}
	return documentResponse(doc)
}

func soapHeader(doc *etree.Document) *etree.Element {
	if doc == nil || doc.Root() == nil {
		return nil
	}
	return doc.Root().SelectElement("Header")
}

func soapPayload(doc *etree.Document) *etree.Element {
	if doc == nil || doc.Root() == nil {
		return nil
	}
	body := doc.Root().SelectElement("Body")
	if body == nil {
		return nil
	}
	children := body.ChildElements()
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

type acceptAll struct{}

func (acceptAll) ProcessUserMessage(context.Context, *Metadata, *etree.Element, *message.UserMessage,
	*pmode.PMode, *etree.Element, []*attachment.Attachment, *ProcessState) ProcessResult {
	return Accept()
}

func (acceptAll) ProcessSignalMessage(context.Context, *Metadata, *etree.Element, *message.SignalMessage,
	*pmode.PMode, *ProcessState) ProcessResult {
	return Accept()
}
