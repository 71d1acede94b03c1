package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Susanoo/app/crm"
	"github.com/amirphl/Susanoo/app/services"
	"github.com/amirphl/Susanoo/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTick    = 5 * time.Millisecond
	waitFor     = 3 * time.Second
	pollEvery   = 2 * time.Millisecond
	testAccount = "acc-1"
	testSender  = "sender@acme.io"
)

var testPlatforms = crm.NewPlatforms(config.PlatformsConfig{
	CRM:   config.PlatformConfig{BaseURL: "http://crm.test/crm/v2"},
	Bigin: config.PlatformConfig{BaseURL: "http://crm.test/bigin/v1"},
})

func platform(t *testing.T, name string) crm.Platform {
	t.Helper()
	p, err := testPlatforms.Resolve(name)
	require.NoError(t, err)
	return p
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*services.Account
}

func newFakeAccounts(ids ...string) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]*services.Account)}
	for _, id := range ids {
		f.accounts[id] = &services.Account{AccountID: id, FromAddresses: []string{testSender}}
	}
	return f
}

func (f *fakeAccounts) ResolveAccount(_ context.Context, accountID string) (*services.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrAccountNotFound, accountID)
	}
	return acc, nil
}

type fakeTokens struct {
	mu          sync.Mutex
	err         error
	invalidated []string
}

func (f *fakeTokens) GetValidToken(_ context.Context, _ *services.Account) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "token", nil
}

func (f *fakeTokens) Invalidate(_ context.Context, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, accountID)
}

func (f *fakeTokens) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type sentMail struct {
	contactID string
	mail      crm.Mail
}

type fakeClient struct {
	mu        sync.Mutex
	createFn  func(fields map[string]any) (*crm.CreateContactResult, error)
	sendFn    func(contactID string) (json.RawMessage, error)
	historyFn func(contactID string) (*crm.EmailHistory, error)

	created      []map[string]any
	sent         []sentMail
	historyCalls int

	// entered receives the item of every create call; block holds create until closed
	entered chan string
	block   chan struct{}
}

func (f *fakeClient) CreateContact(_ context.Context, _ crm.Platform, _ string, fields map[string]any) (*crm.CreateContactResult, error) {
	if f.entered != nil {
		f.entered <- fmt.Sprint(fields["Email"])
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.created = append(f.created, fields)
	fn := f.createFn
	f.mu.Unlock()
	if fn != nil {
		return fn(fields)
	}
	return &crm.CreateContactResult{ID: "id-" + fmt.Sprint(fields["Email"]), Raw: json.RawMessage(`{"code":"SUCCESS"}`)}, nil
}

func (f *fakeClient) SendMail(_ context.Context, _ crm.Platform, _ string, contactID string, mail crm.Mail) (json.RawMessage, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentMail{contactID: contactID, mail: mail})
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(contactID)
	}
	return json.RawMessage(`{"code":"SUCCESS"}`), nil
}

func (f *fakeClient) FetchEmailHistory(_ context.Context, _ crm.Platform, _ string, contactID string) (*crm.EmailHistory, error) {
	f.mu.Lock()
	f.historyCalls++
	fn := f.historyFn
	f.mu.Unlock()
	if fn != nil {
		return fn(contactID)
	}
	return &crm.EmailHistory{}, nil
}

func (f *fakeClient) createdItems() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.created))
	for _, c := range f.created {
		out = append(out, fmt.Sprint(c["Email"]))
	}
	return out
}

func (f *fakeClient) sentMails() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

func (f *fakeClient) historyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls
}

type fakeArchiver struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (f *fakeArchiver) Archive(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeArchiver) archived() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Snapshot(nil), f.snaps...)
}

type harness struct {
	sched    *JobScheduler
	accounts *fakeAccounts
	tokens   *fakeTokens
	client   *fakeClient
}

func newHarness(t *testing.T, client *fakeClient, opts Options) *harness {
	t.Helper()
	if client == nil {
		client = &fakeClient{}
	}
	if opts.Tick == 0 {
		opts.Tick = testTick
	}
	h := &harness{
		accounts: newFakeAccounts(testAccount),
		tokens:   &fakeTokens{},
		client:   client,
	}
	h.sched = NewJobScheduler(h.accounts, h.tokens, client, opts, zerolog.Nop())
	t.Cleanup(func() {
		if client.block != nil {
			select {
			case <-client.block:
			default:
				close(client.block)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.sched.Shutdown(ctx)
	})
	return h
}

func (h *harness) job(t *testing.T, key string) Snapshot {
	t.Helper()
	snap, err := h.sched.Job(key)
	require.NoError(t, err)
	return snap
}

func (h *harness) waitStatus(t *testing.T, key string, status JobStatus) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := h.sched.Job(key)
		return err == nil && snap.Status == status
	}, waitFor, pollEvery, "job %s never reached %s", key, status)
	return h.job(t, key)
}

func (h *harness) waitCursor(t *testing.T, key string, cursor int) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := h.sched.Job(key)
		return err == nil && snap.Cursor >= cursor
	}, waitFor, pollEvery, "job %s never reached cursor %d", key, cursor)
	return h.job(t, key)
}

func sendingForm() FormData {
	return FormData{SendEmail: true, FromEmail: testSender, FromAddresses: []string{testSender}, Subject: "Hello"}
}

func TestStart_SingleItemWithoutSend(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, started, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"x@a.com"}, 0, FormData{})
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, "CRM-acc-1", snap.Key)
	assert.NotEmpty(t, snap.RunID)

	snap = h.waitStatus(t, snap.Key, StatusCompleted)
	require.Len(t, snap.Results, 1)
	r := snap.Results[0]
	assert.Equal(t, "x@a.com", r.Item)
	assert.Equal(t, CreateSuccess, r.Create)
	assert.Equal(t, SendSkipped, r.Send)
	assert.Equal(t, LiveNotRequested, r.Live)
	assert.Equal(t, 1, snap.Cursor)
	assert.NotNil(t, snap.FinishedAt)
	assert.Equal(t, 1, snap.Summary.Created)
	assert.Equal(t, 1, snap.Summary.SendSkipped)
}

func TestStart_ResultsKeepInputOrder(t *testing.T) {
	client := &fakeClient{createFn: func(fields map[string]any) (*crm.CreateContactResult, error) {
		if fields["Email"] == "b@a.com" {
			return nil, &crm.APIError{Op: "create_contact", StatusCode: 400, Code: "INVALID_DATA", Raw: json.RawMessage(`{"code":"INVALID_DATA"}`)}
		}
		return &crm.CreateContactResult{ID: "id-" + fmt.Sprint(fields["Email"])}, nil
	}}
	h := newHarness(t, client, Options{})

	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com", "b@a.com", "c@a.com"}, 1, sendingForm())
	require.NoError(t, err)
	snap = h.waitStatus(t, snap.Key, StatusCompleted)

	require.Len(t, snap.Results, 3)
	assert.Equal(t, []string{"a@a.com", "b@a.com", "c@a.com"}, []string{snap.Results[0].Item, snap.Results[1].Item, snap.Results[2].Item})
	assert.Equal(t, SendSuccess, snap.Results[0].Send)
	assert.Equal(t, CreateFailed, snap.Results[1].Create)
	assert.Equal(t, SendFailed, snap.Results[1].Send)
	assert.JSONEq(t, `{"code":"INVALID_DATA"}`, string(snap.Results[1].Raw.Create))
	assert.Equal(t, errNoEntity.Error(), snap.Results[1].Raw.SendError)
	assert.Equal(t, SendSuccess, snap.Results[2].Send)
	assert.Equal(t, []string{"a@a.com", "b@a.com", "c@a.com"}, client.createdItems())
}

func TestStart_FirstItemDispatchesImmediately(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com", "b@a.com"}, 1000, FormData{})
	require.NoError(t, err)

	snap = h.waitCursor(t, snap.Key, 1)
	assert.Equal(t, StatusProcessing, snap.Status)
	assert.Len(t, snap.Results, 1)
	assert.Greater(t, snap.Countdown, 0)
	assert.LessOrEqual(t, snap.Countdown, 1000)
}

func TestStart_NoOpWhileProcessing(t *testing.T) {
	h := newHarness(t, nil, Options{})
	first, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com", "b@a.com"}, 1000, FormData{})
	require.NoError(t, err)
	h.waitCursor(t, first.Key, 1)

	again, started, err := h.sched.Start(testAccount, platform(t, "CRM"), []string{"z@a.com"}, 0, FormData{})
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, first.RunID, again.RunID)
	assert.Equal(t, 1, again.Cursor)
	assert.Len(t, again.Results, 1)
	assert.Equal(t, 2, again.Total)
}

func TestStart_ReplacesFinishedRecord(t *testing.T) {
	h := newHarness(t, nil, Options{})
	first, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com"}, 0, FormData{})
	require.NoError(t, err)
	h.waitStatus(t, first.Key, StatusCompleted)

	second, started, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"b@a.com", "c@a.com"}, 0, FormData{})
	require.NoError(t, err)
	assert.True(t, started)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 2, second.Total)

	done := h.waitStatus(t, first.Key, StatusCompleted)
	require.Len(t, done.Results, 2)
	assert.Equal(t, "b@a.com", done.Results[0].Item)
}

func TestStart_Validation(t *testing.T) {
	h := newHarness(t, nil, Options{MaxItems: 2})

	_, _, err := h.sched.Start(testAccount, nil, []string{"a@a.com"}, 0, FormData{})
	assert.ErrorIs(t, err, ErrPlatformRequired)

	_, _, err = h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com", "b@a.com", "c@a.com"}, 0, FormData{})
	assert.ErrorIs(t, err, ErrTooManyItems)

	snap, started, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"  ", ""}, 0, FormData{})
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 0, snap.Total)

	snap, _, err = h.sched.Start(testAccount, platform(t, "bigin"), []string{" a@a.com ", "", "b@a.com"}, -5, FormData{})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 0, snap.DelaySeconds)
	snap = h.waitStatus(t, snap.Key, StatusCompleted)
	assert.Equal(t, "a@a.com", snap.Results[0].Item)
}

func TestPause_HoldsCursorUntilResume(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a", "b", "c", "d"}, 4, FormData{})
	require.NoError(t, err)
	h.waitCursor(t, snap.Key, 1)

	changed, err := h.sched.Pause(snap.Key)
	require.NoError(t, err)
	assert.True(t, changed)

	time.Sleep(10 * testTick)
	held := h.job(t, snap.Key)
	assert.Equal(t, StatusPaused, held.Status)

	time.Sleep(20 * testTick)
	later := h.job(t, snap.Key)
	assert.Equal(t, held.Cursor, later.Cursor)
	assert.Len(t, later.Results, later.Cursor)
	assert.Less(t, later.Cursor, 4)

	changed, err = h.sched.Pause(snap.Key)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = h.sched.Resume(snap.Key)
	require.NoError(t, err)
	assert.True(t, changed)

	done := h.waitStatus(t, snap.Key, StatusCompleted)
	assert.Len(t, done.Results, 4)
}

func TestResume_RestartsFullDelay(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a", "b"}, 40, FormData{})
	require.NoError(t, err)
	h.waitCursor(t, snap.Key, 1)

	// let the countdown fall below the full delay before pausing
	require.Eventually(t, func() bool { return h.job(t, snap.Key).Countdown < 38 }, waitFor, pollEvery)
	_, err = h.sched.Pause(snap.Key)
	require.NoError(t, err)
	_, err = h.sched.Resume(snap.Key)
	require.NoError(t, err)

	resumed := h.job(t, snap.Key)
	assert.Equal(t, StatusProcessing, resumed.Status)
	assert.GreaterOrEqual(t, resumed.Countdown, 39)
	assert.Equal(t, 1, resumed.Cursor)

	h.waitStatus(t, snap.Key, StatusCompleted)
}

func TestResume_DuringInFlightDispatch(t *testing.T) {
	client := &fakeClient{entered: make(chan string, 8), block: make(chan struct{})}
	h := newHarness(t, client, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com", "b@a.com", "c@a.com"}, 0, FormData{})
	require.NoError(t, err)

	select {
	case item := <-client.entered:
		assert.Equal(t, "a@a.com", item)
	case <-time.After(waitFor):
		t.Fatal("first dispatch never started")
	}

	changed, err := h.sched.Pause(snap.Key)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = h.sched.Resume(snap.Key)
	require.NoError(t, err)
	assert.True(t, changed)
	close(client.block)

	done := h.waitStatus(t, snap.Key, StatusCompleted)
	assert.Len(t, done.Results, 3)
	assert.Equal(t, []string{"a@a.com", "b@a.com", "c@a.com"}, client.createdItems())
}

func TestPause_InFlightResultStillLands(t *testing.T) {
	client := &fakeClient{entered: make(chan string, 8), block: make(chan struct{})}
	h := newHarness(t, client, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com", "b@a.com"}, 0, FormData{})
	require.NoError(t, err)
	<-client.entered

	_, err = h.sched.Pause(snap.Key)
	require.NoError(t, err)
	close(client.block)

	held := h.waitCursor(t, snap.Key, 1)
	assert.Equal(t, StatusPaused, held.Status)
	time.Sleep(10 * testTick)
	assert.Equal(t, 1, h.job(t, snap.Key).Cursor)
}

func TestStop_KeepsResults(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a", "b", "c"}, 1000, FormData{})
	require.NoError(t, err)
	h.waitCursor(t, snap.Key, 1)

	changed, err := h.sched.Stop(snap.Key)
	require.NoError(t, err)
	assert.True(t, changed)

	stopped := h.job(t, snap.Key)
	assert.Equal(t, StatusStopped, stopped.Status)
	assert.Len(t, stopped.Results, 1)
	assert.Equal(t, 0, stopped.Countdown)
	assert.NotNil(t, stopped.FinishedAt)

	for name, op := range map[string]func(string) (bool, error){
		"stop":   h.sched.Stop,
		"pause":  h.sched.Pause,
		"resume": h.sched.Resume,
	} {
		changed, err := op(snap.Key)
		require.NoError(t, err, name)
		assert.False(t, changed, name)
	}

	time.Sleep(10 * testTick)
	assert.Equal(t, 1, h.job(t, snap.Key).Cursor)
}

func TestStop_FromPaused(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a", "b"}, 1000, FormData{})
	require.NoError(t, err)
	h.waitCursor(t, snap.Key, 1)
	_, err = h.sched.Pause(snap.Key)
	require.NoError(t, err)

	changed, err := h.sched.Stop(snap.Key)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusStopped, h.job(t, snap.Key).Status)
}

func TestControl_UnknownKey(t *testing.T) {
	h := newHarness(t, nil, Options{})
	for _, op := range []func(string) (bool, error){h.sched.Pause, h.sched.Resume, h.sched.Stop} {
		changed, err := op("CRM-missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.False(t, changed)
	}
	_, err := h.sched.Job("CRM-missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, h.sched.Reset("CRM-missing"), ErrJobNotFound)
	assert.Empty(t, h.sched.Status())
}

func TestReset(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a", "b"}, 1000, FormData{})
	require.NoError(t, err)
	h.waitCursor(t, snap.Key, 1)

	assert.ErrorIs(t, h.sched.Reset(snap.Key), ErrJobActive)

	_, err = h.sched.Stop(snap.Key)
	require.NoError(t, err)
	require.NoError(t, h.sched.Reset(snap.Key))

	_, err = h.sched.Job(snap.Key)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDispatch_AccountResolutionFailsJob(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, _, err := h.sched.Start("unknown", platform(t, "crm"), []string{"a", "b"}, 0, FormData{})
	require.NoError(t, err)

	failed := h.waitStatus(t, snap.Key, StatusFailed)
	assert.Contains(t, failed.LastError, services.ErrAccountNotFound.Error())
	assert.Empty(t, failed.Results)
	assert.Equal(t, 0, failed.Cursor)
	assert.NotNil(t, failed.FinishedAt)
	assert.Empty(t, h.client.createdItems())
}

func TestDispatch_TokenFailureFailsBothStages(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.tokens.setErr(errors.New("refresh rejected"))

	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com", "b@a.com"}, 0, sendingForm())
	require.NoError(t, err)

	done := h.waitStatus(t, snap.Key, StatusCompleted)
	require.Len(t, done.Results, 2)
	for _, r := range done.Results {
		assert.Equal(t, CreateFailed, r.Create)
		assert.Equal(t, SendFailed, r.Send)
		assert.Contains(t, r.Raw.CreateError, "refresh rejected")
		assert.Equal(t, LiveNotRequested, r.Live)
	}
	assert.Empty(t, h.client.createdItems())
	assert.Empty(t, done.LastError)
}

func TestDispatch_DuplicateUsesExistingID(t *testing.T) {
	client := &fakeClient{createFn: func(map[string]any) (*crm.CreateContactResult, error) {
		return &crm.CreateContactResult{ID: "123", Duplicate: true, Raw: json.RawMessage(`{"code":"DUPLICATE_DATA"}`)}, nil
	}}
	h := newHarness(t, client, Options{})

	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"x@a.com"}, 0, sendingForm())
	require.NoError(t, err)
	done := h.waitStatus(t, snap.Key, StatusCompleted)

	r := done.Results[0]
	assert.Equal(t, CreateDuplicate, r.Create)
	assert.Equal(t, "123", r.EntityID)
	assert.Equal(t, SendSuccess, r.Send)
	sent := client.sentMails()
	require.Len(t, sent, 1)
	assert.Equal(t, "123", sent[0].contactID)
	assert.Equal(t, 1, done.Summary.Duplicates)
}

func TestDispatch_SendStage(t *testing.T) {
	unauthorized := &crm.APIError{Op: "send_mail", StatusCode: 401, Code: "INVALID_TOKEN", Raw: json.RawMessage(`{"code":"INVALID_TOKEN"}`)}

	tests := []struct {
		name        string
		form        FormData
		sendErr     error
		want        SendOutcome
		wantErr     string
		wantInvalid bool
	}{
		{name: "disabled", form: FormData{SendEmail: false, FromEmail: testSender}, want: SendSkipped},
		{name: "sender listed on job", form: sendingForm(), want: SendSuccess},
		{name: "sender from account", form: FormData{SendEmail: true, FromEmail: "SENDER@acme.io"}, want: SendSuccess},
		{name: "sender not allowed", form: FormData{SendEmail: true, FromEmail: "other@acme.io", FromAddresses: []string{testSender}}, want: SendFailed, wantErr: errSenderNotFound.Error()},
		{name: "no sender", form: FormData{SendEmail: true}, want: SendFailed, wantErr: errSenderNotFound.Error()},
		{name: "remote rejects", form: sendingForm(), sendErr: unauthorized, want: SendFailed, wantErr: "INVALID_TOKEN", wantInvalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			if tt.sendErr != nil {
				client.sendFn = func(string) (json.RawMessage, error) {
					return json.RawMessage(`{"code":"INVALID_TOKEN"}`), tt.sendErr
				}
			}
			h := newHarness(t, client, Options{})
			snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"x@a.com"}, 0, tt.form)
			require.NoError(t, err)

			r := h.waitStatus(t, snap.Key, StatusCompleted).Results[0]
			assert.Equal(t, CreateSuccess, r.Create)
			assert.Equal(t, tt.want, r.Send)
			if tt.wantErr != "" {
				assert.Contains(t, r.Raw.SendError, tt.wantErr)
			}
			h.tokens.mu.Lock()
			assert.Equal(t, tt.wantInvalid, len(h.tokens.invalidated) > 0)
			h.tokens.mu.Unlock()
		})
	}
}

func TestDispatch_TemplateSubstitution(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})
	form := sendingForm()
	form.Fields = map[string]any{"First_Name": "Dear {{email}}", "Lead_Source": "import", "Score": 3}
	form.Subject = "News for {{email}}"
	form.Content = "<p>{{email}}</p>"

	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"jane@a.com"}, 0, form)
	require.NoError(t, err)
	h.waitStatus(t, snap.Key, StatusCompleted)

	client.mu.Lock()
	fields := client.created[0]
	client.mu.Unlock()
	assert.Equal(t, "Dear jane@a.com", fields["First_Name"])
	assert.Equal(t, "import", fields["Lead_Source"])
	assert.Equal(t, 3, fields["Score"])
	assert.Equal(t, "jane@a.com", fields["Email"])
	assert.Equal(t, "jane", fields["Last_Name"])

	sent := client.sentMails()
	require.Len(t, sent, 1)
	assert.Equal(t, "News for jane@a.com", sent[0].mail.Subject)
	assert.Equal(t, "<p>jane@a.com</p>", sent[0].mail.Content)
	assert.Equal(t, "jane@a.com", sent[0].mail.To)
}

func TestVerification_MapsLatestStatus(t *testing.T) {
	entry := func(status string) []crm.EmailHistoryEntry {
		return []crm.EmailHistoryEntry{{MessageID: "m1", Status: json.RawMessage(status)}}
	}

	tests := []struct {
		name        string
		platform    string
		history     *crm.EmailHistory
		err         error
		want        LiveStatus
		wantErr     string
		wantInvalid bool
	}{
		{name: "crm sent", platform: "crm", history: &crm.EmailHistory{Entries: entry(`[{"type":"sent"}]`)}, want: LiveSent},
		{name: "crm bounce wins", platform: "crm", history: &crm.EmailHistory{Entries: entry(`[{"type":"sent"},{"type":"bounced"},{"type":"opened"}]`)}, want: LiveBounced},
		{name: "crm other marker", platform: "crm", history: &crm.EmailHistory{Entries: entry(`[{"type":"sent"},{"type":"opened"}]`)}, want: LiveStatus("Opened")},
		{name: "bigin string", platform: "bigin", history: &crm.EmailHistory{Entries: entry(`"bounced"`)}, want: LiveBounced},
		{name: "no history", platform: "crm", history: &crm.EmailHistory{}, want: LiveNotFound},
		{name: "unparseable status", platform: "bigin", history: &crm.EmailHistory{Entries: entry(`{"x":1}`)}, want: LiveCheckFailed},
		{name: "remote error", platform: "crm", err: errors.New("boom"), want: LiveCheckFailed, wantErr: "boom"},
		{name: "server error status", platform: "crm", err: &crm.APIError{Op: "email_history", StatusCode: 502}, want: LiveCheckFailed, wantErr: "http status 502"},
		{name: "rejected token", platform: "bigin", err: &crm.APIError{Op: "email_history", StatusCode: 401}, want: LiveCheckFailed, wantErr: "http status 401", wantInvalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{historyFn: func(string) (*crm.EmailHistory, error) {
				return tt.history, tt.err
			}}
			h := newHarness(t, client, Options{})
			form := sendingForm()
			form.CheckStatus = true
			form.CheckDelay = 20

			snap, _, err := h.sched.Start(testAccount, platform(t, tt.platform), []string{"x@a.com"}, 0, form)
			require.NoError(t, err)
			done := h.waitStatus(t, snap.Key, StatusCompleted)
			assert.Equal(t, LivePending, done.Results[0].Live)

			require.Eventually(t, func() bool {
				return h.job(t, snap.Key).Results[0].Live != LivePending
			}, waitFor, pollEvery)

			verified := h.job(t, snap.Key)
			r := verified.Results[0]
			assert.Equal(t, tt.want, r.Live)
			assert.NotNil(t, r.VerifiedAt)
			assert.Equal(t, CreateSuccess, r.Create)
			assert.Equal(t, SendSuccess, r.Send)
			assert.Equal(t, 1, verified.Cursor)
			assert.Equal(t, StatusCompleted, verified.Status)
			if tt.wantErr != "" {
				assert.Contains(t, r.Raw.VerifyError, tt.wantErr)
			}
			h.tokens.mu.Lock()
			assert.Equal(t, tt.wantInvalid, len(h.tokens.invalidated) > 0)
			h.tokens.mu.Unlock()
		})
	}
}

func TestVerification_TokenFailureIsCheckFailed(t *testing.T) {
	h := newHarness(t, nil, Options{})
	form := FormData{CheckStatus: true, CheckDelay: 20}

	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"x@a.com"}, 0, form)
	require.NoError(t, err)
	h.waitStatus(t, snap.Key, StatusCompleted)
	h.tokens.setErr(errors.New("expired"))

	require.Eventually(t, func() bool {
		return h.job(t, snap.Key).Results[0].Live == LiveCheckFailed
	}, waitFor, pollEvery)
	assert.Contains(t, h.job(t, snap.Key).Results[0].Raw.VerifyError, "expired")
}

func TestVerification_NotRequestedWithoutEntity(t *testing.T) {
	client := &fakeClient{createFn: func(map[string]any) (*crm.CreateContactResult, error) {
		return nil, errors.New("network down")
	}}
	h := newHarness(t, client, Options{})
	form := FormData{CheckStatus: true, CheckDelay: 1}

	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"x@a.com"}, 0, form)
	require.NoError(t, err)
	done := h.waitStatus(t, snap.Key, StatusCompleted)
	assert.Equal(t, LiveNotRequested, done.Results[0].Live)

	time.Sleep(10 * testTick)
	assert.Equal(t, 0, client.historyCount())
}

func TestVerification_DefaultDelay(t *testing.T) {
	h := newHarness(t, nil, Options{VerificationDelaySeconds: 2})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"x@a.com"}, 0, FormData{CheckStatus: true})
	require.NoError(t, err)
	h.waitStatus(t, snap.Key, StatusCompleted)

	require.Eventually(t, func() bool {
		return h.job(t, snap.Key).Results[0].Live == LiveNotFound
	}, waitFor, pollEvery)
}

func TestVerification_SurvivesReset(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"x@a.com"}, 0, FormData{CheckStatus: true, CheckDelay: 10})
	require.NoError(t, err)
	h.waitStatus(t, snap.Key, StatusCompleted)
	require.NoError(t, h.sched.Reset(snap.Key))

	require.Eventually(t, func() bool { return client.historyCount() == 1 }, waitFor, pollEvery)
	_, err = h.sched.Job(snap.Key)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobs_KeysAreIndependent(t *testing.T) {
	h := newHarness(t, nil, Options{})
	items := []string{"a", "b", "c", "d"}

	crmJob, _, err := h.sched.Start(testAccount, platform(t, "crm"), items, 4, FormData{})
	require.NoError(t, err)
	biginJob, _, err := h.sched.Start(testAccount, platform(t, "bigin"), items, 4, FormData{})
	require.NoError(t, err)
	assert.NotEqual(t, crmJob.Key, biginJob.Key)

	h.waitCursor(t, crmJob.Key, 1)
	_, err = h.sched.Pause(crmJob.Key)
	require.NoError(t, err)

	h.waitStatus(t, biginJob.Key, StatusCompleted)
	paused := h.job(t, crmJob.Key)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Less(t, paused.Cursor, len(items))

	all := h.sched.Status()
	assert.Len(t, all, 2)
	assert.Equal(t, "Bigin", all[biginJob.Key].Platform)
}

func TestSnapshots_ResultsMatchCursor(t *testing.T) {
	h := newHarness(t, nil, Options{})
	items := make([]string, 30)
	for i := range items {
		items[i] = fmt.Sprintf("user%d@a.com", i)
	}
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), items, 0, FormData{})
	require.NoError(t, err)

	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		cur := h.job(t, snap.Key)
		require.Len(t, cur.Results, cur.Cursor)
		if cur.Status == StatusCompleted {
			break
		}
	}
	done := h.job(t, snap.Key)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, items, done.Items)
	assert.Empty(t, done.Remaining())
}

func TestArchiver_ReceivesTerminalSnapshots(t *testing.T) {
	archiver := &fakeArchiver{}
	h := newHarness(t, nil, Options{Archiver: archiver})

	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a", "b"}, 0, FormData{})
	require.NoError(t, err)
	h.waitStatus(t, snap.Key, StatusCompleted)

	require.Eventually(t, func() bool { return len(archiver.archived()) == 1 }, waitFor, pollEvery)
	got := archiver.archived()[0]
	assert.Equal(t, snap.RunID, got.RunID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Len(t, got.Results, 2)
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, nil, Options{})
	snap, _, err := h.sched.Start(testAccount, platform(t, "crm"), []string{"a@a.com", "b@a.com"}, 1000, FormData{CheckStatus: true, CheckDelay: 1000})
	require.NoError(t, err)
	h.waitCursor(t, snap.Key, 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.sched.Shutdown(ctx))
	require.NoError(t, h.sched.Shutdown(ctx))

	_, _, err = h.sched.Start("acc-2", platform(t, "crm"), []string{"x"}, 0, FormData{})
	assert.ErrorIs(t, err, ErrSchedulerClosed)

	after := h.job(t, snap.Key)
	assert.Equal(t, 1, after.Cursor)
	assert.Equal(t, LivePending, after.Results[0].Live)
	assert.Equal(t, 0, h.client.historyCount())
}

func TestFormData_SenderAllowed(t *testing.T) {
	tests := []struct {
		name    string
		form    FormData
		account *services.Account
		want    bool
	}{
		{name: "job candidates", form: FormData{FromEmail: "a@x.io", FromAddresses: []string{"b@x.io", "A@X.io"}}, want: true},
		{name: "job candidates take precedence", form: FormData{FromEmail: "a@x.io", FromAddresses: []string{"b@x.io"}}, account: &services.Account{FromAddresses: []string{"a@x.io"}}, want: false},
		{name: "account fallback", form: FormData{FromEmail: " a@x.io "}, account: &services.Account{FromAddresses: []string{"a@x.io"}}, want: true},
		{name: "no account senders", form: FormData{FromEmail: "a@x.io"}, account: &services.Account{}, want: false},
		{name: "empty sender", form: FormData{FromAddresses: []string{""}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.form.senderAllowed(tt.account))
		})
	}
}

func TestJobKey(t *testing.T) {
	assert.Equal(t, "CRM-1", JobKey(crm.PlatformCRM, "1"))
	assert.Equal(t, "Bigin-1", JobKey(crm.PlatformBigin, "1"))
	assert.True(t, strings.HasPrefix(JobKey(platform(t, "BIGIN").Name(), "x"), "Bigin-"))
}
