// Package commandqueue serializes high-level automation commands
// (navigate, click, type, ...) against a single session's page, one at a
// time, in FIFO order (spec §4.D).
//
// Grounded on the teacher's internal/bidi/connection.go: a single mutex
// serializes every RPC on the connection so replies can never be
// interleaved. Here that discipline is generalized from "one socket" to "one
// page, many command kinds", driven by a dedicated worker goroutine instead
// of a call-site mutex, so commands can be queued from multiple transports
// without blocking their callers.
package commandqueue

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/kb"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/browserhive/remotebrowser/internal/errcode"
	"github.com/browserhive/remotebrowser/internal/intervention"
	"github.com/browserhive/remotebrowser/internal/protocol"
	"github.com/browserhive/remotebrowser/internal/rblog"
)

// defaultTimeout is applied to any command that doesn't override it.
const defaultTimeout = 30 * time.Second

// Result is what enqueue() resolves to: either Value is populated, or Err
// is, never both.
type Result struct {
	Value interface{}
	Err   *errcode.Error
}

// Command is one queued unit of work.
type Command struct {
	ID      string
	Method  string
	Params  map[string]interface{}
	Timeout time.Duration

	// Notify delivers out-of-band envelopes tied to this specific command
	// to whichever connection submitted it — currently only used for
	// requestHumanIntervention's intervention_created/intervention_completed
	// pair, which bracket the eventual result (spec §4.F/§8). nil for
	// ordinary commands.
	Notify func(interface{})

	resultCh chan Result
	canceled bool
}

// ViewportChangeFunc is invoked after a successful setViewport so the owning
// Session can restart the debug channel's screencast at the new size (spec
// §4.C/§4.D/§4.G all describe the same restart; the queue is the single
// place that triggers it, once).
type ViewportChangeFunc func(width, height int)

// Queue is the per-session command queue. One worker goroutine drains cmds
// in FIFO order; Enqueue blocks the caller until the command resolves,
// times out, or is cancelled by Clear.
type Queue struct {
	ctx context.Context

	sessionID     string
	coordinator   *intervention.Coordinator
	viewerBaseURL string

	cmds     chan *Command
	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending []*Command // queued, not yet started; eligible for Clear

	onViewportChange ViewportChangeFunc

	interOpDelay   bool
	actionsDone    int
	defaultTimeout time.Duration

	log rblog.Logger
}

// New starts a Queue's worker against a page's chromedp context. ctx should
// be the same tab context the session's debugchannel.Channel uses; the
// queue does not create or own it. coordinator/viewerBaseURL may be left
// nil/empty if requestHumanIntervention is never exercised against this
// queue; attempting it then resolves with UNKNOWN_METHOD. defaultTimeout, if
// zero, falls back to the package default (spec §6 COMMAND_TIMEOUT default).
func New(ctx context.Context, sessionID string, coordinator *intervention.Coordinator, viewerBaseURL string, onViewportChange ViewportChangeFunc, interOpDelay bool, defaultCmdTimeout time.Duration, log rblog.Logger) *Queue {
	q := &Queue{
		ctx:              ctx,
		sessionID:        sessionID,
		coordinator:      coordinator,
		viewerBaseURL:    viewerBaseURL,
		cmds:             make(chan *Command, 64),
		stopCh:           make(chan struct{}),
		onViewportChange: onViewportChange,
		interOpDelay:     interOpDelay,
		defaultTimeout:   defaultCmdTimeout,
		log:              log,
	}
	go q.run()
	return q
}

// Enqueue submits a command and blocks until it resolves. notify, if
// non-nil, receives out-of-band envelopes for this command only (see
// Command.Notify).
func (q *Queue) Enqueue(id, method string, params map[string]interface{}, timeout time.Duration, notify func(interface{})) Result {
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Command{
		ID:       id,
		Method:   method,
		Params:   params,
		Timeout:  timeout,
		Notify:   notify,
		resultCh: make(chan Result, 1),
	}

	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()

	select {
	case q.cmds <- c:
	case <-q.stopCh:
		return Result{Err: errcode.New(errcode.Cancelled, "queue closed")}
	}

	return <-c.resultCh
}

// Clear evicts every queued-but-not-started command with CANCELLED. The
// command currently executing, if any, is unaffected and runs to
// completion or timeout.
func (q *Queue) Clear() {
	q.mu.Lock()
	toCancel := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, c := range toCancel {
		q.mu.Lock()
		already := c.canceled
		c.canceled = true
		q.mu.Unlock()
		if !already {
			select {
			case c.resultCh <- Result{Err: errcode.New(errcode.Cancelled, "evicted by queue clear")}:
			default:
			}
		}
	}
}

// Close stops the worker. Queued commands receive CANCELLED.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.Clear()
	})
}

func (q *Queue) run() {
	for {
		select {
		case <-q.stopCh:
			return
		case c := <-q.cmds:
			q.removePending(c)

			q.mu.Lock()
			canceled := c.canceled
			q.mu.Unlock()
			if canceled {
				continue
			}

			q.execute(c)
		}
	}
}

func (q *Queue) removePending(c *Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == c {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
}

func (q *Queue) execute(c *Command) {
	if q.interOpDelay {
		q.delay(true)
	}

	ctx, cancel := context.WithTimeout(q.ctx, c.Timeout)
	defer cancel()

	value, err := q.dispatch(ctx, c)

	var res Result
	switch e := err.(type) {
	case nil:
		res = Result{Value: value}
	case *errcode.Error:
		res = Result{Err: e}
	default:
		res = Result{Err: q.classify(c.Method, err)}
	}

	q.mu.Lock()
	q.actionsDone++
	q.mu.Unlock()

	if q.interOpDelay {
		q.delay(false)
	}

	select {
	case c.resultCh <- res:
	default:
	}
}

// delay applies the optional inter-operation pause, scaled up slightly as
// more actions accumulate ("fatigue"). Opaque to the caller: it happens
// inside execute, never observed in the result.
func (q *Queue) delay(before bool) {
	q.mu.Lock()
	n := q.actionsDone
	q.mu.Unlock()

	baseMin, baseMax := 80*time.Millisecond, 220*time.Millisecond
	if !before {
		baseMin, baseMax = 40*time.Millisecond, 140*time.Millisecond
	}

	fatigue := time.Duration(n/20) * 15 * time.Millisecond
	span := int64(baseMax - baseMin)
	var extra time.Duration
	if span > 0 {
		extra = time.Duration(rand.Int63n(span))
	}
	time.Sleep(baseMin + extra + fatigue)
}

func (q *Queue) dispatch(ctx context.Context, c *Command) (interface{}, error) {
	params := c.Params
	switch c.Method {
	case protocol.MethodNavigate:
		return execNavigate(ctx, params)
	case protocol.MethodClick:
		return execClick(ctx, params, false)
	case protocol.MethodDblClick:
		return execClick(ctx, params, true)
	case protocol.MethodHover:
		return execHover(ctx, params)
	case protocol.MethodType:
		return execType(ctx, params)
	case protocol.MethodPress:
		return execPress(ctx, params)
	case protocol.MethodFill:
		return execFill(ctx, params)
	case protocol.MethodWaitForSelector:
		return execWaitForSelector(ctx, params)
	case protocol.MethodSetViewport:
		return q.execSetViewport(ctx, params)
	case protocol.MethodEvaluate:
		return execEvaluate(ctx, params)
	case protocol.MethodScreenshot:
		return execScreenshot(ctx, params)
	case protocol.MethodGoBack:
		return execHistory(ctx, chromedp.NavigateBack())
	case protocol.MethodGoForward:
		return execHistory(ctx, chromedp.NavigateForward())
	case protocol.MethodReload:
		return execHistory(ctx, chromedp.Reload())
	case protocol.MethodRequestIntervention:
		return q.execRequestIntervention(ctx, c)
	default:
		return nil, fmt.Errorf("unknown method %q", c.Method)
	}
}

// execRequestIntervention parks the command on the Intervention
// Coordinator's single-shot completion primitive (spec §4.F/§9 design
// note: never the queue's own result channel). It notifies the originating
// connection with intervention_created immediately, then again with
// intervention_completed once a human resolves it, before finally
// returning the command's own result — the same envelope sequence spec §8
// example 6 describes, just emitted from the one place that both creates
// the intervention and is already parked waiting for it.
func (q *Queue) execRequestIntervention(ctx context.Context, c *Command) (interface{}, error) {
	if q.coordinator == nil {
		return nil, fmt.Errorf("unknown method %q", c.Method)
	}

	reason, _ := stringParam(c.Params, "reason")
	instructions, _ := stringParam(c.Params, "instructions")

	iv, err := q.coordinator.Create(intervention.CreateParams{
		SessionID:      q.sessionID,
		Reason:         reason,
		Instructions:   instructions,
		CommandID:      c.ID,
		InterventionID: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	viewerURL := fmt.Sprintf("%s/sessions/%s/viewer?intervention=%s", q.viewerBaseURL, q.sessionID, iv.ID)
	if c.Notify != nil {
		c.Notify(&protocol.InterventionCreatedMessage{ID: c.ID, InterventionID: iv.ID, ViewerURL: viewerURL})
	}

	select {
	case <-iv.Done():
	case <-ctx.Done():
		q.coordinator.Cancel(iv.ID)
		return nil, errcode.New(errcode.Timeout, "intervention timed out")
	}

	if iv.Status == intervention.Cancelled {
		return nil, errcode.New(errcode.Cancelled, "intervention cancelled")
	}

	resolvedAt := iv.ResolvedAt.UnixMilli()
	if c.Notify != nil {
		c.Notify(&protocol.InterventionCompletedMessage{ID: c.ID, InterventionID: iv.ID, ResolvedAt: resolvedAt})
	}
	return map[string]interface{}{"interventionId": iv.ID, "resolvedAt": resolvedAt}, nil
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func boolParam(params map[string]interface{}, key string) bool {
	v, ok := params[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func execNavigate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	url, ok := stringParam(params, "url")
	if !ok || url == "" {
		return nil, fmt.Errorf("navigate: missing required param url")
	}
	waitUntil, _ := stringParam(params, "waitUntil")
	if waitUntil == "" {
		waitUntil = "domcontentloaded"
	}

	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if waitUntil == "networkidle" {
		// chromedp has no native networkidle wait; approximate with a
		// short settle window after load, matching the teacher's
		// polling-based readiness checks elsewhere in the pack.
		time.Sleep(500 * time.Millisecond)
	}

	var finalURL string
	if err := chromedp.Run(ctx, chromedp.Location(&finalURL)); err != nil {
		return nil, fmt.Errorf("navigate: reading final url: %w", err)
	}
	return map[string]interface{}{"url": finalURL}, nil
}

func execClick(ctx context.Context, params map[string]interface{}, double bool) (interface{}, error) {
	selector, ok := stringParam(params, "selector")
	if !ok || selector == "" {
		return nil, fmt.Errorf("click: missing required param selector")
	}

	var action chromedp.Action
	key := "clicked"
	if double {
		action = chromedp.DoubleClick(selector, chromedp.ByQueryAll)
		key = "dblclicked"
	} else {
		action = chromedp.Click(selector, chromedp.ByQueryAll)
	}

	if err := chromedp.Run(ctx, action); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return map[string]interface{}{key: selector}, nil
}

func execHover(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	selector, ok := stringParam(params, "selector")
	if !ok || selector == "" {
		return nil, fmt.Errorf("hover: missing required param selector")
	}

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var boxes []float64
		if err := chromedp.Run(ctx, chromedp.EvaluateAsDevTools(
			fmt.Sprintf(`(()=>{const el=document.querySelector(%q);if(!el)throw new Error('selector not found: '+%q);const r=el.getBoundingClientRect();return [r.left+r.width/2, r.top+r.height/2];})()`, selector, selector),
			&boxes,
		)); err != nil {
			return err
		}
		if len(boxes) != 2 {
			return fmt.Errorf("hover: could not resolve element center for %q", selector)
		}
		return input.DispatchMouseEvent(input.MouseMoved, boxes[0], boxes[1]).Do(ctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("hover: %w", err)
	}
	return map[string]interface{}{"hovered": selector}, nil
}

func execType(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	selector, ok := stringParam(params, "selector")
	if !ok || selector == "" {
		return nil, fmt.Errorf("type: missing required param selector")
	}
	text, ok := stringParam(params, "text")
	if !ok {
		return nil, fmt.Errorf("type: missing required param text")
	}
	delayMs, hasDelay := intParam(params, "delay")

	if !hasDelay || delayMs <= 0 {
		if err := chromedp.Run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQueryAll)); err != nil {
			return nil, fmt.Errorf("type: %w", err)
		}
		return map[string]interface{}{"typed": text, "into": selector}, nil
	}

	if err := chromedp.Run(ctx, chromedp.Focus(selector, chromedp.ByQueryAll)); err != nil {
		return nil, fmt.Errorf("type: %w", err)
	}
	for _, r := range text {
		if err := chromedp.Run(ctx, chromedp.SendKeys(selector, string(r), chromedp.ByQueryAll)); err != nil {
			return nil, fmt.Errorf("type: %w", err)
		}
		time.Sleep(time.Duration(delayMs) * time.Millisecond)
	}
	return map[string]interface{}{"typed": text, "into": selector}, nil
}

func execPress(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	key, ok := stringParam(params, "key")
	if !ok || key == "" {
		return nil, fmt.Errorf("press: missing required param key")
	}

	if selector, ok := stringParam(params, "selector"); ok && selector != "" {
		if err := chromedp.Run(ctx, chromedp.Focus(selector, chromedp.ByQueryAll)); err != nil {
			return nil, fmt.Errorf("press: %w", err)
		}
	}

	keys, ok := kb.Keys[key]
	if !ok {
		keys = key
	}
	if err := chromedp.Run(ctx, chromedp.KeyEvent(keys)); err != nil {
		return nil, fmt.Errorf("press: %w", err)
	}
	return map[string]interface{}{"pressed": key}, nil
}

func execFill(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	selector, ok := stringParam(params, "selector")
	if !ok || selector == "" {
		return nil, fmt.Errorf("fill: missing required param selector")
	}
	value, ok := stringParam(params, "value")
	if !ok {
		return nil, fmt.Errorf("fill: missing required param value")
	}

	if err := chromedp.Run(ctx,
		chromedp.Clear(selector, chromedp.ByQueryAll),
		chromedp.SendKeys(selector, value, chromedp.ByQueryAll),
	); err != nil {
		return nil, fmt.Errorf("fill: %w", err)
	}
	return map[string]interface{}{"filled": selector, "with": value}, nil
}

func execWaitForSelector(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	selector, ok := stringParam(params, "selector")
	if !ok || selector == "" {
		return nil, fmt.Errorf("waitForSelector: missing required param selector")
	}
	state, _ := stringParam(params, "state")
	if state == "" {
		state = "visible"
	}

	var action chromedp.Action
	switch state {
	case "attached":
		action = chromedp.WaitReady(selector, chromedp.ByQueryAll)
	default:
		action = chromedp.WaitVisible(selector, chromedp.ByQueryAll)
	}

	if err := chromedp.Run(ctx, action); err != nil {
		return nil, fmt.Errorf("waitForSelector: %w", err)
	}
	return map[string]interface{}{"found": selector}, nil
}

func (q *Queue) execSetViewport(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	width, ok := intParam(params, "width")
	if !ok || width <= 0 {
		return nil, fmt.Errorf("setViewport: missing required param width")
	}
	height, ok := intParam(params, "height")
	if !ok || height <= 0 {
		return nil, fmt.Errorf("setViewport: missing required param height")
	}

	action := emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false)
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, fmt.Errorf("setViewport: %w", err)
	}

	if q.onViewportChange != nil {
		q.onViewportChange(width, height)
	}
	return map[string]interface{}{"viewport": map[string]interface{}{"w": width, "h": height}}, nil
}

func execEvaluate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	expr, ok := stringParam(params, "expression")
	if !ok || expr == "" {
		return nil, fmt.Errorf("evaluate: missing required param expression")
	}

	var result interface{}
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &result)); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return map[string]interface{}{"result": result}, nil
}

func execScreenshot(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	fullPage := boolParam(params, "fullPage")

	var buf []byte
	if !fullPage {
		if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return nil, fmt.Errorf("screenshot: %w", err)
		}
		return map[string]interface{}{"data": base64.StdEncoding.EncodeToString(buf), "format": "png"}, nil
	}

	var dims []float64
	if err := chromedp.Run(ctx, chromedp.EvaluateAsDevTools(
		`[document.documentElement.scrollWidth, document.documentElement.scrollHeight, window.innerWidth]`,
		&dims,
	)); err != nil {
		return nil, fmt.Errorf("screenshot: measuring document: %w", err)
	}
	if len(dims) != 3 {
		return nil, fmt.Errorf("screenshot: could not measure document size")
	}
	docW, docH, vpW := dims[0], dims[1], dims[2]
	width := docW
	if vpW > width {
		width = vpW
	}

	override := emulation.SetDeviceMetricsOverride(int64(width), int64(docH), 1, false)
	restore := emulation.ClearDeviceMetricsOverride()

	if err := chromedp.Run(ctx, override); err != nil {
		return nil, fmt.Errorf("screenshot: enlarging viewport: %w", err)
	}
	defer chromedp.Run(ctx, restore)

	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return map[string]interface{}{"data": base64.StdEncoding.EncodeToString(buf), "format": "png"}, nil
}

func execHistory(ctx context.Context, action chromedp.Action) (interface{}, error) {
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, fmt.Errorf("history navigation: %w", err)
	}
	var finalURL string
	if err := chromedp.Run(ctx, chromedp.Location(&finalURL)); err != nil {
		return nil, fmt.Errorf("history navigation: reading url: %w", err)
	}
	return map[string]interface{}{"url": finalURL}, nil
}

// classify turns an execution failure into the stable error-code taxonomy
// of spec §4.D, checked in a fixed priority order.
func (q *Queue) classify(method string, err error) *errcode.Error {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "timeout", "timed out", "exceeded", "waiting for", "strict mode violation"):
		return errcode.New(errcode.Timeout, err.Error())

	case containsAny(msg, "navigation", "net::err_", "invalid url", "cannot navigate", "goto"):
		return errcode.New(errcode.NavigationError, err.Error())

	case containsAny(msg, "selector", "locator", "element", "no node found", "no such element"):
		if strings.Contains(msg, "ms") && containsDuration(msg) {
			return errcode.New(errcode.Timeout, err.Error())
		}
		return errcode.New(errcode.SelectorError, err.Error())

	case strings.Contains(msg, strings.ToLower(fmt.Sprintf("unknown method %q", method))):
		return errcode.New(errcode.UnknownMethod, err.Error())

	default:
		return errcode.New(errcode.ExecutionError, err.Error())
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// containsDuration is a narrow check for an explicit "...ms" duration token
// (e.g. "30000ms"), distinguishing a timed-out selector wait from a plain
// "selector not found" failure (spec §4.D rule 3).
func containsDuration(msg string) bool {
	idx := strings.Index(msg, "ms")
	if idx < 1 {
		return false
	}
	for i := idx - 1; i >= 0 && i >= idx-7; i-- {
		if msg[i] < '0' || msg[i] > '9' {
			return i != idx-1
		}
	}
	return true
}
