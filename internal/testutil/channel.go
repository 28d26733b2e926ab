package testutil

import (
	"context"
	"sync"

	"github.com/livinlefevreloca/originator/internal/channel"
	"github.com/livinlefevreloca/originator/internal/job"
)

// FakeChannel is a scripted in-memory channel.Channel.
type FakeChannel struct {
	// Replies are delivered in order once ReceivePayloads is called.
	Replies [][]byte

	PublishFilesErr error
	PublishJobErr   error
	ReceiveErr      error
	CancelErr       error
	DisconnectErr   error

	// OnPublishFiles and OnPublishJob run before the publish returns.
	OnPublishFiles func()
	OnPublishJob   func()

	mu             sync.Mutex
	ops            []string
	publishedFiles []string
	publishedJob   *job.Definition
	handler        func([]byte)
	onClosed       func(error)
	closeOnce      sync.Once
}

func (f *FakeChannel) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *FakeChannel) PublishFiles(_ context.Context, files []string) error {
	f.record("publish_files")
	if f.OnPublishFiles != nil {
		f.OnPublishFiles()
	}
	if f.PublishFilesErr != nil {
		return f.PublishFilesErr
	}
	f.mu.Lock()
	f.publishedFiles = append([]string(nil), files...)
	f.mu.Unlock()
	return nil
}

func (f *FakeChannel) PublishJob(_ context.Context, def *job.Definition) error {
	f.record("publish_job")
	if f.OnPublishJob != nil {
		f.OnPublishJob()
	}
	if f.PublishJobErr != nil {
		return f.PublishJobErr
	}
	f.mu.Lock()
	f.publishedJob = def
	f.mu.Unlock()
	return nil
}

func (f *FakeChannel) ReceivePayloads(_ context.Context, handler func([]byte)) error {
	f.record("receive_payloads")
	if f.ReceiveErr != nil {
		return f.ReceiveErr
	}

	f.mu.Lock()
	f.handler = handler
	replies := append([][]byte(nil), f.Replies...)
	f.mu.Unlock()

	go func() {
		for _, raw := range replies {
			handler(raw)
		}
	}()
	return nil
}

// Deliver pushes one more reply to the registered handler.
func (f *FakeChannel) Deliver(raw []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(raw)
	}
}

func (f *FakeChannel) Disconnect(_ context.Context) error {
	f.record("disconnect")
	if f.DisconnectErr != nil {
		return f.DisconnectErr
	}
	f.Close(nil)
	return nil
}

func (f *FakeChannel) Cancel(_ context.Context) error {
	f.record("cancel")
	return f.CancelErr
}

// Close simulates the broker closing the connection.
func (f *FakeChannel) Close(err error) {
	f.mu.Lock()
	onClosed := f.onClosed
	f.mu.Unlock()
	if onClosed == nil {
		return
	}
	f.closeOnce.Do(func() { onClosed(err) })
}

func (f *FakeChannel) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// Count returns how many times op was invoked.
func (f *FakeChannel) Count(op string) int {
	n := 0
	for _, o := range f.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (f *FakeChannel) PublishedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.publishedFiles...)
}

func (f *FakeChannel) PublishedJob() *job.Definition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publishedJob
}

// FakeDialer hands out a FakeChannel.
type FakeDialer struct {
	Channel    *FakeChannel
	ConnectErr error

	mu    sync.Mutex
	calls []channel.ConnectionInfo
}

func (d *FakeDialer) Connect(_ context.Context, info channel.ConnectionInfo, onClosed func(error)) (channel.Channel, error) {
	d.mu.Lock()
	d.calls = append(d.calls, info)
	d.mu.Unlock()

	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}

	d.Channel.mu.Lock()
	d.Channel.onClosed = onClosed
	d.Channel.mu.Unlock()
	return d.Channel, nil
}

// Calls returns the number of Connect invocations.
func (d *FakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}
