package notification

import (
	"context"
	"fmt"
	"testing"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/errors"
)

type fakeSender struct {
	messages []string
	titles   []string
	errs     []error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.messages = append(f.messages, message)
	if params != nil {
		if title, ok := params.Title(); ok {
			f.titles = append(f.titles, title)
		}
	}
	return f.errs
}

func ingestSummary(err error) *Summary {
	return &Summary{
		Command:  "ingest",
		Provider: "flickr",
		RunID:    "run-1",
		Duration: 1500 * time.Millisecond,
		Counts:   []Count{{"attempted", 45}, {"committed", 45}},
		Err:      err,
	}
}

func TestSummary_Render(t *testing.T) {
	s := ingestSummary(nil)
	assert.Equal(t, "imageledger ingest flickr finished", s.Title())
	assert.Equal(t, "run: run-1\nattempted: 45\ncommitted: 45\nduration: 1.5s", s.Message())

	failed := ingestSummary(fmt.Errorf("GET https://api.flickr.com/?api_key=abc123: 500"))
	assert.Equal(t, "imageledger ingest flickr failed", failed.Title())
	assert.Contains(t, failed.Message(), "error: ")
	assert.NotContains(t, failed.Message(), "abc123")

	sync := &Summary{Command: "sync"}
	assert.Equal(t, "imageledger sync finished", sync.Title())
}

func TestNotifier_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		onSuccess bool
		onFailure bool
		err       error
		wantSent  bool
	}{
		{"success wanted", true, false, nil, true},
		{"success not wanted", false, true, nil, false},
		{"failure wanted", false, true, errors.NewStd("boom"), true},
		{"failure not wanted", true, false, errors.NewStd("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			n := NewWithSender(sender, tt.onSuccess, tt.onFailure, nil)
			require.NoError(t, n.Notify(t.Context(), ingestSummary(tt.err)))
			assert.Equal(t, tt.wantSent, len(sender.messages) == 1)
		})
	}
}

func TestNotifier_SendsTitle(t *testing.T) {
	sender := &fakeSender{}
	n := NewWithSender(sender, true, true, nil)
	require.NoError(t, n.Notify(t.Context(), ingestSummary(nil)))
	assert.Equal(t, []string{"imageledger ingest flickr finished"}, sender.titles)
}

func TestNotifier_DeliveryFailure(t *testing.T) {
	sender := &fakeSender{errs: []error{nil, errors.NewStd("slack: 403 token=xoxb-secret")}}
	n := NewWithSender(sender, true, true, nil)

	err := n.Notify(t.Context(), ingestSummary(nil))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotification))
	assert.NotContains(t, err.Error(), "xoxb-secret")
}

func TestNotifier_FailedRunSentAfterCancellation(t *testing.T) {
	sender := &fakeSender{}
	n := NewWithSender(sender, true, true, nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.NoError(t, n.Notify(ctx, ingestSummary(context.Canceled)))
	assert.Len(t, sender.messages, 1)

	assert.ErrorIs(t, n.Notify(ctx, ingestSummary(nil)), context.Canceled)
}

func TestNotifier_Nil(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(t.Context(), ingestSummary(nil)))
}

func TestNew_Disabled(t *testing.T) {
	n, err := New(&conf.NotificationSettings{Enabled: false, URLs: []string{"generic://example.org"}}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = New(&conf.NotificationSettings{Enabled: true}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&conf.NotificationSettings{Enabled: true, URLs: []string{"nosuchservice://token@host"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
