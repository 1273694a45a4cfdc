package notify

import (
	"context"
	"errors"
)

// Kind is the task lifecycle event a notification reports.
type Kind string

const (
	KindTaskCreated  Kind = "task_created"
	KindActionFailed Kind = "action_failed"
	KindTaskEnded    Kind = "task_ended"
)

// Notification is one message derived from a committed transaction.
type Notification struct {
	Kind     Kind
	TaskHash string
	Height   uint64
	Title    string
	Body     string
}

// Notifier delivers task notifications to some outside channel.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier fans a notification out to every notifier.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send tries every notifier and joins their errors.
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, to := range m.notifiers {
		if err := to.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOpNotifier does nothing.
type NoOpNotifier struct{}

func (NoOpNotifier) Send(context.Context, Notification) error { return nil }
