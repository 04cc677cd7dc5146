package generation

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"annexbot/internal/domain"
)

func TestClassifyState(t *testing.T) {
	cases := []struct {
		state string
		want  taskState
	}{
		{"success", stateSuccess},
		{"succeeded", stateSuccess},
		{"completed", stateSuccess},
		{"failed", stateFailed},
		{"fail", stateFailed},
		{"error", stateFailed},
		{"canceled", stateFailed},
		{"cancelled", stateFailed},
		{"SUCCESS", stateSuccess},
		{"Succeeded", stateSuccess},
		{"Failed", stateFailed},
		{"ERROR", stateFailed},
		{"running", statePending},
		{"queued", statePending},
		{"", statePending},
		{"SOMETHING_NEW", statePending},
	}
	for _, tc := range cases {
		if got := classifyState(tc.state); got != tc.want {
			t.Errorf("classifyState(%q) = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestExtractResultURLs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "primary array",
			in:   `{"resultUrls":["https://a/1.png","https://a/2.png"]}`,
			want: []string{"https://a/1.png", "https://a/2.png"},
		},
		{
			name: "snake case alternate",
			in:   `{"result_urls":["https://a/1.png"]}`,
			want: []string{"https://a/1.png"},
		},
		{
			name: "urls of objects",
			in:   `{"urls":[{"url":"https://a/1.png"},{"url":"https://a/2.png"}]}`,
			want: []string{"https://a/1.png", "https://a/2.png"},
		},
		{
			name: "single url object",
			in:   `{"url":"https://a/1.png"}`,
			want: []string{"https://a/1.png"},
		},
		{
			name: "primary wins over alternates",
			in:   `{"resultUrls":["https://a/1.png"],"urls":["https://b/2.png"]}`,
			want: []string{"https://a/1.png"},
		},
		{
			name: "empty primary falls through",
			in:   `{"resultUrls":[],"urls":["https://b/2.png"]}`,
			want: []string{"https://b/2.png"},
		},
		{name: "empty doc", in: `{}`, want: nil},
		{name: "empty string", in: "", want: nil},
		{name: "not json", in: "oops", want: nil},
		{name: "blank members dropped", in: `{"resultUrls":["","",""]}`, want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := extractResultURLs(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPollerReturnsURLsAfterPendingAttempts(t *testing.T) {
	attempts := 0
	gw := &fakeGateway{
		pollFn: func(string) (domain.TaskStatus, error) {
			attempts++
			if attempts < 3 {
				return domain.TaskStatus{State: "running"}, nil
			}
			return domain.TaskStatus{State: "completed", ResultJSON: `{"resultUrls":["https://a/1.png"]}`}, nil
		},
	}
	p := NewPoller(gw, time.Millisecond, 10, zerolog.Nop())

	urls, err := p.Run(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(urls) != 1 || attempts != 3 {
		t.Fatalf("urls=%v attempts=%d", urls, attempts)
	}
}

func TestPollerAcceptsUppercaseTerminalState(t *testing.T) {
	attempts := 0
	gw := &fakeGateway{
		pollFn: func(string) (domain.TaskStatus, error) {
			attempts++
			return domain.TaskStatus{State: "SUCCESS", ResultJSON: `{"resultUrls":["https://a/1.png"]}`}, nil
		},
	}
	p := NewPoller(gw, time.Millisecond, 10, zerolog.Nop())

	urls, err := p.Run(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(urls) != 1 || attempts != 1 {
		t.Fatalf("urls=%v attempts=%d, want one URL on the first attempt", urls, attempts)
	}
}

func TestPollerTransportErrorIsTerminal(t *testing.T) {
	attempts := 0
	gw := &fakeGateway{
		pollFn: func(string) (domain.TaskStatus, error) {
			attempts++
			return domain.TaskStatus{}, errors.New("connection refused")
		},
	}
	p := NewPoller(gw, time.Millisecond, 10, zerolog.Nop())

	_, err := p.Run(context.Background(), "task-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want no retry after transport error", attempts)
	}
}

func TestPollerBudgetExhaustion(t *testing.T) {
	attempts := 0
	gw := &fakeGateway{
		pollFn: func(string) (domain.TaskStatus, error) {
			attempts++
			return domain.TaskStatus{State: "waiting"}, nil
		},
	}
	p := NewPoller(gw, time.Millisecond, 4, zerolog.Nop())

	_, err := p.Run(context.Background(), "task-1")
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
	if attempts != 4 {
		t.Fatalf("attempts = %d, want the full budget", attempts)
	}
}

func TestPollerEmptySuccessIsFailure(t *testing.T) {
	gw := &fakeGateway{
		pollFn: func(string) (domain.TaskStatus, error) {
			return domain.TaskStatus{State: "success", ResultJSON: `{"resultUrls":[]}`}, nil
		},
	}
	p := NewPoller(gw, time.Millisecond, 5, zerolog.Nop())

	_, err := p.Run(context.Background(), "task-1")
	if !errors.Is(err, domain.ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", err)
	}
}

func TestPollerFailureCarriesReason(t *testing.T) {
	gw := &fakeGateway{
		pollFn: func(string) (domain.TaskStatus, error) {
			return domain.TaskStatus{State: "error", FailReason: "nsfw blocked"}, nil
		},
	}
	p := NewPoller(gw, time.Millisecond, 5, zerolog.Nop())

	_, err := p.Run(context.Background(), "task-1")
	var failed *TaskFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want TaskFailedError", err)
	}
	if failed.Reason != "nsfw blocked" {
		t.Fatalf("reason = %q", failed.Reason)
	}
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	gw := &fakeGateway{
		pollFn: func(string) (domain.TaskStatus, error) {
			return domain.TaskStatus{State: "running"}, nil
		},
	}
	p := NewPoller(gw, 50*time.Millisecond, 1000, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "task-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
