package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"canvasapi/internal/providers/canvasai"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubCall struct {
	path   string
	params map[string]string
}

type stubResponse struct {
	payload string
	err     error
}

type stubInvoker struct {
	mu        sync.Mutex
	calls     []stubCall
	responses map[string]stubResponse
	hook      func(ctx context.Context, path string) error
}

func newStubInvoker(responses map[string]stubResponse) *stubInvoker {
	return &stubInvoker{responses: responses}
}

func (s *stubInvoker) Invoke(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, stubCall{path: path, params: params})
	resp, ok := s.responses[path]
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, path); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, &canvasai.HTTPStatusError{Endpoint: path, StatusCode: http.StatusNotFound, Body: "not found"}
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return json.RawMessage(resp.payload), nil
}

func (s *stubInvoker) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.path)
	}
	return out
}

func (s *stubInvoker) call(path string) (stubCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.path == path {
			return c, true
		}
	}
	return stubCall{}, false
}

const (
	classificationJSON = `{"label":"cat","confidence":0.9,"top5":[{"label":"cat","prob":0.9},{"label":"dog","prob":0.05}]}`
	critiqueJSON       = `{"ad_description":"A promo banner","refined_prompt":"vibrant sale poster"}`
)

var canvasC1 = CanvasRef{ID: "c1", ImageURL: "https://x/img.png"}

func recordOutcomes(o *Orchestrator) func() []Outcome {
	var mu sync.Mutex
	var seen []Outcome
	o.Subscribe(func(out Outcome) {
		mu.Lock()
		seen = append(seen, out)
		mu.Unlock()
	})
	return func() []Outcome {
		mu.Lock()
		defer mu.Unlock()
		return append([]Outcome(nil), seen...)
	}
}

func states(outcomes []Outcome) []State {
	out := make([]State, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.State)
	}
	return out
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStartRejectsMissingImageURL(t *testing.T) {
	inv := newStubInvoker(nil)
	o := NewOrchestrator(inv, nil)
	seen := recordOutcomes(o)

	for _, ref := range []CanvasRef{{ID: "c1"}, {ID: "c1", ImageURL: "   "}} {
		if _, err := o.Start(context.Background(), ref); !errors.Is(err, ErrInvalidCanvas) {
			t.Fatalf("expected ErrInvalidCanvas, got %v", err)
		}
	}
	if len(inv.paths()) != 0 {
		t.Fatalf("no request should be issued, got %v", inv.paths())
	}
	if o.State() != StateIdle {
		t.Fatalf("state = %s, want idle", o.State())
	}
	if len(seen()) != 0 {
		t.Fatalf("no transitions expected, got %v", states(seen()))
	}
}

func TestEndToEndAgainstHTTPServer(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var critiqueQuery map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case canvasai.PathClassification:
			_, _ = w.Write([]byte(classificationJSON))
		case canvasai.PathOCR:
			_, _ = w.Write([]byte(`"SALE 50% OFF"`))
		case canvasai.PathCritique:
			q := r.URL.Query()
			mu.Lock()
			critiqueQuery = map[string]string{
				"ocr":            q.Get("ocr"),
				"torch_analysis": q.Get("torch_analysis"),
				"canvas_id":      q.Get("canvas_id"),
			}
			mu.Unlock()
			_, _ = w.Write([]byte(critiqueJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := canvasai.NewClient(canvasai.Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	o := NewOrchestrator(client, nil)
	seen := recordOutcomes(o)

	outcome, err := o.Start(context.Background(), canvasC1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome.State != StateSucceeded {
		t.Fatalf("state = %s, failure = %+v", outcome.State, outcome.Failure)
	}
	if outcome.Description != "A promo banner" || outcome.RefinedPrompt != "vibrant sale poster" {
		t.Fatalf("outcome = %+v", outcome)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{canvasai.PathClassification, canvasai.PathOCR, canvasai.PathCritique}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("call order = %v, want %v", order, want)
	}
	if critiqueQuery["ocr"] != "SALE 50% OFF" {
		t.Fatalf("ocr param = %q", critiqueQuery["ocr"])
	}
	if critiqueQuery["canvas_id"] != "c1" {
		t.Fatalf("canvas_id param = %q", critiqueQuery["canvas_id"])
	}
	var top5 []Prediction
	if err := json.Unmarshal([]byte(critiqueQuery["torch_analysis"]), &top5); err != nil {
		t.Fatalf("torch_analysis is not json: %v", err)
	}
	if len(top5) != 2 || top5[0].Label != "cat" {
		t.Fatalf("torch_analysis = %+v", top5)
	}
	if got := states(seen()); !equalStates(got, []State{StateRunning, StateSucceeded}) {
		t.Fatalf("transitions = %v", got)
	}
}

func TestClassificationFailureShortCircuits(t *testing.T) {
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {err: &canvasai.HTTPStatusError{Endpoint: canvasai.PathClassification, StatusCode: 500, Body: "boom"}},
		canvasai.PathOCR:            {payload: `"text"`},
		canvasai.PathCritique:       {payload: critiqueJSON},
	})
	o := NewOrchestrator(inv, nil)
	seen := recordOutcomes(o)

	outcome, err := o.Start(context.Background(), canvasC1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome.State != StateFailed || outcome.Failure.Stage != StageClassification {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !strings.Contains(outcome.Failure.Message, "500") || !strings.Contains(outcome.Failure.Message, "boom") {
		t.Fatalf("message should carry status and body: %q", outcome.Failure.Message)
	}
	var statusErr *canvasai.HTTPStatusError
	if !errors.As(outcome.Failure, &statusErr) {
		t.Fatalf("failure should unwrap to *HTTPStatusError")
	}
	if paths := inv.paths(); len(paths) != 1 || paths[0] != canvasai.PathClassification {
		t.Fatalf("calls = %v, want classification only", paths)
	}
	if got := states(seen()); !equalStates(got, []State{StateRunning, StateFailed}) {
		t.Fatalf("transitions = %v", got)
	}
	if o.State() != StateFailed {
		t.Fatalf("state = %s", o.State())
	}
}

func TestOCRFailureSkipsCritique(t *testing.T) {
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {payload: classificationJSON},
		canvasai.PathOCR:            {err: &canvasai.NetworkError{Endpoint: canvasai.PathOCR, Err: errors.New("connection refused")}},
		canvasai.PathCritique:       {payload: critiqueJSON},
	})
	o := NewOrchestrator(inv, nil)

	outcome, err := o.Start(context.Background(), canvasC1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome.State != StateFailed || outcome.Failure.Stage != StageOCR {
		t.Fatalf("outcome = %+v", outcome)
	}
	if _, called := inv.call(canvasai.PathCritique); called {
		t.Fatalf("critique must not be called after OCR failure")
	}
}

func TestCritiqueStatusFailure(t *testing.T) {
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {payload: classificationJSON},
		canvasai.PathOCR:            {payload: `{"lines":["SALE"]}`},
		canvasai.PathCritique:       {err: &canvasai.HTTPStatusError{Endpoint: canvasai.PathCritique, StatusCode: 422}},
	})
	o := NewOrchestrator(inv, nil)

	outcome, err := o.Start(context.Background(), canvasC1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome.State != StateFailed || outcome.Failure.Stage != StageCritique {
		t.Fatalf("outcome = %+v", outcome)
	}
	call, _ := inv.call(canvasai.PathCritique)
	if call.params["ocr"] != `{"lines":["SALE"]}` {
		t.Fatalf("object OCR should be forwarded as JSON text, got %q", call.params["ocr"])
	}
}

func TestMissingCritiqueFieldsUsePlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		critique string
		wantDesc string
		wantPmt  string
	}{
		{name: "missing refined prompt", critique: `{"ad_description":"X"}`, wantDesc: "X", wantPmt: PlaceholderRefinedPrompt},
		{name: "missing description", critique: `{"refined_prompt":"Y"}`, wantDesc: PlaceholderDescription, wantPmt: "Y"},
		{name: "empty object", critique: `{}`, wantDesc: PlaceholderDescription, wantPmt: PlaceholderRefinedPrompt},
		{name: "blank values", critique: `{"ad_description":" ","refined_prompt":""}`, wantDesc: PlaceholderDescription, wantPmt: PlaceholderRefinedPrompt},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inv := newStubInvoker(map[string]stubResponse{
				canvasai.PathClassification: {payload: classificationJSON},
				canvasai.PathOCR:            {payload: `"SALE 50% OFF"`},
				canvasai.PathCritique:       {payload: tc.critique},
			})
			outcome, err := NewOrchestrator(inv, nil).Start(context.Background(), canvasC1)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if outcome.State != StateSucceeded {
				t.Fatalf("outcome = %+v", outcome)
			}
			if outcome.Description != tc.wantDesc || outcome.RefinedPrompt != tc.wantPmt {
				t.Fatalf("got (%q, %q), want (%q, %q)", outcome.Description, outcome.RefinedPrompt, tc.wantDesc, tc.wantPmt)
			}
		})
	}
}

func TestNestedFencedCritiqueString(t *testing.T) {
	payload, err := json.Marshal("```json\n{\"ad_description\":\"A\",\"refined_prompt\":\"B\"}\n```")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {payload: classificationJSON},
		canvasai.PathOCR:            {payload: `"SALE 50% OFF"`},
		canvasai.PathCritique:       {payload: string(payload)},
	})

	outcome, err := NewOrchestrator(inv, nil).Start(context.Background(), canvasC1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome.State != StateSucceeded || outcome.Description != "A" || outcome.RefinedPrompt != "B" {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestNonJSONCritiqueBodyIsSanitized(t *testing.T) {
	raw := "```json\n{\"ad_description\":\"A\",\"refined_prompt\":\"B\"}\n```"
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {payload: classificationJSON},
		canvasai.PathOCR:            {err: &canvasai.DecodeError{Raw: "SALE 50% OFF", Err: errors.New("invalid character")}},
		canvasai.PathCritique:       {err: &canvasai.DecodeError{Raw: raw, Err: errors.New("invalid character")}},
	})

	outcome, err := NewOrchestrator(inv, nil).Start(context.Background(), canvasC1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if outcome.State != StateSucceeded || outcome.Description != "A" || outcome.RefinedPrompt != "B" {
		t.Fatalf("outcome = %+v", outcome)
	}
	call, _ := inv.call(canvasai.PathCritique)
	if call.params["ocr"] != "SALE 50% OFF" {
		t.Fatalf("plain-text OCR should be forwarded verbatim, got %q", call.params["ocr"])
	}
}

func TestMalformedCritiqueIsParseFailure(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		contains string
		wantErr  error
	}{
		{name: "fenced broken object", payload: `"` + "```json\\n{ad_description: oops\\n```" + `"`, contains: "ad_description: oops"},
		{name: "json null", payload: `null`, wantErr: canvasai.ErrNotObject},
		{name: "string holding null", payload: `"null"`, wantErr: canvasai.ErrNotObject},
		{name: "empty list", payload: `[]`, wantErr: canvasai.ErrNotObject},
		{name: "number", payload: `42`, wantErr: canvasai.ErrNotObject},
		{name: "wrong field type", payload: `{"ad_description":5}`},
		{name: "plain words", payload: `"plain words"`, contains: "plain words"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inv := newStubInvoker(map[string]stubResponse{
				canvasai.PathClassification: {payload: classificationJSON},
				canvasai.PathOCR:            {payload: `"SALE 50% OFF"`},
				canvasai.PathCritique:       {payload: tc.payload},
			})

			outcome, err := NewOrchestrator(inv, nil).Start(context.Background(), canvasC1)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if outcome.State != StateFailed || outcome.Failure == nil || outcome.Failure.Stage != StageParse {
				t.Fatalf("outcome = %+v", outcome)
			}
			if outcome.Description != "" || outcome.RefinedPrompt != "" {
				t.Fatalf("failed outcome carries partial content: %+v", outcome)
			}
			if outcome.Failure.Raw != tc.payload {
				t.Fatalf("raw = %q, want %q", outcome.Failure.Raw, tc.payload)
			}
			if tc.contains != "" && !strings.Contains(outcome.Failure.Message, tc.contains) {
				t.Fatalf("message should retain raw text: %q", outcome.Failure.Message)
			}
			var decodeErr *canvasai.DecodeError
			if !errors.As(outcome.Failure, &decodeErr) {
				t.Fatalf("failure should unwrap to *DecodeError")
			}
			if tc.wantErr != nil && !errors.Is(outcome.Failure, tc.wantErr) {
				t.Fatalf("failure = %v, want %v", outcome.Failure, tc.wantErr)
			}
		})
	}
}

func TestClassificationIsNormalized(t *testing.T) {
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {payload: `{"label":"a","confidence":0.4,"top5":[
			{"label":"f","prob":0.01},{"label":"a","prob":0.4},{"label":"b","prob":0.3},
			{"label":"c","prob":0.1},{"label":"d","prob":0.08},{"label":"e","prob":0.06}]}`},
		canvasai.PathOCR:      {payload: `"x"`},
		canvasai.PathCritique: {payload: critiqueJSON},
	})
	if _, err := NewOrchestrator(inv, nil).Start(context.Background(), canvasC1); err != nil {
		t.Fatalf("start: %v", err)
	}
	call, _ := inv.call(canvasai.PathCritique)
	var top5 []Prediction
	if err := json.Unmarshal([]byte(call.params["torch_analysis"]), &top5); err != nil {
		t.Fatalf("torch_analysis: %v", err)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(top5) != len(want) {
		t.Fatalf("top5 len = %d, want %d", len(top5), len(want))
	}
	for i, label := range want {
		if top5[i].Label != label {
			t.Fatalf("top5[%d] = %q, want %q", i, top5[i].Label, label)
		}
	}
}

func TestEmptyTop5IsSentAsArray(t *testing.T) {
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {payload: `{"label":"cat","confidence":0.9}`},
		canvasai.PathOCR:            {payload: `"x"`},
		canvasai.PathCritique:       {payload: critiqueJSON},
	})
	if _, err := NewOrchestrator(inv, nil).Start(context.Background(), canvasC1); err != nil {
		t.Fatalf("start: %v", err)
	}
	call, _ := inv.call(canvasai.PathCritique)
	if call.params["torch_analysis"] != "[]" {
		t.Fatalf("torch_analysis = %q, want []", call.params["torch_analysis"])
	}
}

func TestConcurrentStartIsRejected(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {payload: classificationJSON},
		canvasai.PathOCR:            {payload: `"x"`},
		canvasai.PathCritique:       {payload: critiqueJSON},
	})
	inv.hook = func(ctx context.Context, path string) error {
		if path == canvasai.PathClassification {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}
	o := NewOrchestrator(inv, nil)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := o.Start(context.Background(), canvasC1)
		done <- out
	}()

	<-entered
	if o.State() != StateRunning {
		t.Fatalf("state = %s, want running", o.State())
	}
	if _, err := o.Start(context.Background(), canvasC1); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(release)

	select {
	case out := <-done:
		if out.State != StateSucceeded {
			t.Fatalf("first run outcome = %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("first run did not finish")
	}
	if n := len(inv.paths()); n != 3 {
		t.Fatalf("expected exactly one run's three calls, got %d", n)
	}
}

func TestCallbacksAreOrderedAcrossRuns(t *testing.T) {
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {err: &canvasai.HTTPStatusError{Endpoint: canvasai.PathClassification, StatusCode: 503}},
	})
	o := NewOrchestrator(inv, nil)

	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var seen []State
	active, overlapped := 0, false
	o.Subscribe(func(out Outcome) {
		mu.Lock()
		active++
		if active > 1 {
			overlapped = true
		}
		seen = append(seen, out.State)
		mu.Unlock()
		if out.State == StateFailed {
			once.Do(func() {
				close(blocked)
				<-release
			})
		}
		mu.Lock()
		active--
		mu.Unlock()
	})
	snapshot := func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), seen...)
	}

	first := make(chan struct{})
	go func() {
		_, _ = o.Start(context.Background(), canvasC1)
		close(first)
	}()
	<-blocked

	second := make(chan error, 1)
	go func() {
		_, err := o.Start(context.Background(), canvasC1)
		second <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if got := snapshot(); !equalStates(got, []State{StateRunning, StateFailed}) {
		t.Fatalf("second run emitted while the first was still delivering: %v", got)
	}
	close(release)

	<-first
	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second run did not finish")
	}

	want := []State{StateRunning, StateFailed, StateRunning, StateFailed}
	if got := snapshot(); !equalStates(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if overlapped {
		t.Fatalf("callbacks ran concurrently")
	}
}

func TestCancellationReturnsToIdle(t *testing.T) {
	entered := make(chan struct{})
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {payload: classificationJSON},
		canvasai.PathOCR:            {payload: `"x"`},
		canvasai.PathCritique:       {payload: critiqueJSON},
	})
	inv.hook = func(ctx context.Context, path string) error {
		if path == canvasai.PathOCR {
			close(entered)
			<-ctx.Done()
			return &canvasai.NetworkError{Endpoint: path, Err: ctx.Err()}
		}
		return nil
	}
	o := NewOrchestrator(inv, nil)
	seen := recordOutcomes(o)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := o.Start(ctx, canvasC1)
		errc <- err
	}()

	<-entered
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}

	if o.State() != StateIdle {
		t.Fatalf("state = %s, want idle", o.State())
	}
	if got := states(seen()); !equalStates(got, []State{StateRunning, StateIdle}) {
		t.Fatalf("transitions = %v, want running then idle", got)
	}
	if _, called := inv.call(canvasai.PathCritique); called {
		t.Fatalf("critique must not run after cancellation")
	}
}

func TestNewRunReplacesPreviousOutcome(t *testing.T) {
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {err: &canvasai.HTTPStatusError{Endpoint: canvasai.PathClassification, StatusCode: 503}},
	})
	o := NewOrchestrator(inv, nil)

	if out, _ := o.Start(context.Background(), canvasC1); out.State != StateFailed {
		t.Fatalf("first run = %+v", out)
	}

	inv.mu.Lock()
	inv.responses = map[string]stubResponse{
		canvasai.PathClassification: {payload: classificationJSON},
		canvasai.PathOCR:            {payload: `"x"`},
		canvasai.PathCritique:       {payload: critiqueJSON},
	}
	inv.mu.Unlock()

	out, err := o.Start(context.Background(), canvasC1)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.State != StateSucceeded || out.Failure != nil {
		t.Fatalf("second run = %+v", out)
	}
	if last := o.Last(); last.State != StateSucceeded || last.Failure != nil {
		t.Fatalf("last = %+v", last)
	}
}

func TestUnsubscribe(t *testing.T) {
	inv := newStubInvoker(map[string]stubResponse{
		canvasai.PathClassification: {err: errors.New("down")},
	})
	o := NewOrchestrator(inv, nil)
	var count int
	unsubscribe := o.Subscribe(func(Outcome) { count++ })
	kept := recordOutcomes(o)
	unsubscribe()

	if _, err := o.Start(context.Background(), canvasC1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if count != 0 {
		t.Fatalf("unsubscribed callback invoked %d times", count)
	}
	if len(kept()) != 2 {
		t.Fatalf("remaining subscriber saw %d transitions, want 2", len(kept()))
	}
}
