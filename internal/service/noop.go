package service

import (
	"context"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// noopBus discards events when no signal bus is configured.
type noopBus struct{}

func (noopBus) Publish(context.Context, string, []byte) error { return nil }

func (noopBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (noopBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (noopBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type noopAudit struct{}

func (noopAudit) Log(context.Context, string, map[string]any) error { return nil }

func (noopAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, string) error { return nil }
