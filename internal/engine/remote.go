package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/mailmirror/internal/instrumentation"
	"github.com/teemow/mailmirror/internal/mailbox"
)

// instrumentedRemote records a span and metrics around every remote call.
type instrumentedRemote struct {
	next    mailbox.RemoteClient
	metrics *instrumentation.Metrics
}

func instrument(next mailbox.RemoteClient, metrics *instrumentation.Metrics) mailbox.RemoteClient {
	return &instrumentedRemote{next: next, metrics: metrics}
}

func (r *instrumentedRemote) observe(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := instrumentation.StartRemoteSpan(ctx, op, attrs...)
	start := time.Now()
	err := fn(ctx)
	r.metrics.RecordRemoteOperation(ctx, op, instrumentation.StatusOf(err), time.Since(start))
	instrumentation.EndSpan(span, err)
	return err
}

func (r *instrumentedRemote) Connect(ctx context.Context) error {
	return r.observe(ctx, instrumentation.RemoteConnect, r.next.Connect)
}

func (r *instrumentedRemote) Disconnect() error {
	return r.next.Disconnect()
}

func (r *instrumentedRemote) ListFolders(ctx context.Context) (folders []mailbox.RemoteFolder, err error) {
	err = r.observe(ctx, instrumentation.RemoteListFolders, func(ctx context.Context) error {
		folders, err = r.next.ListFolders(ctx)
		return err
	})
	return folders, err
}

func (r *instrumentedRemote) FetchRange(ctx context.Context, folder string, cursor mailbox.Cursor) (res *mailbox.FetchResult, err error) {
	err = r.observe(ctx, instrumentation.RemoteFetchRange, func(ctx context.Context) error {
		res, err = r.next.FetchRange(ctx, folder, cursor)
		return err
	}, attribute.String(instrumentation.SpanAttrFolder, folder))
	return res, err
}

func (r *instrumentedRemote) FetchByID(ctx context.Context, id string) (m *mailbox.Message, err error) {
	err = r.observe(ctx, instrumentation.RemoteFetchByID, func(ctx context.Context) error {
		m, err = r.next.FetchByID(ctx, id)
		return err
	}, attribute.String(instrumentation.SpanAttrMessageID, id))
	return m, err
}

func (r *instrumentedRemote) SetFlag(ctx context.Context, id string, flag mailbox.Flag, value bool) error {
	return r.observe(ctx, instrumentation.RemoteSetFlag, func(ctx context.Context) error {
		return r.next.SetFlag(ctx, id, flag, value)
	}, attribute.String(instrumentation.SpanAttrMessageID, id), attribute.String("mailbox.flag", string(flag)))
}

func (r *instrumentedRemote) Move(ctx context.Context, id, folder string) error {
	return r.observe(ctx, instrumentation.RemoteMove, func(ctx context.Context) error {
		return r.next.Move(ctx, id, folder)
	}, attribute.String(instrumentation.SpanAttrMessageID, id), attribute.String(instrumentation.SpanAttrFolder, folder))
}

func (r *instrumentedRemote) Delete(ctx context.Context, id string) error {
	return r.observe(ctx, instrumentation.RemoteDelete, func(ctx context.Context) error {
		return r.next.Delete(ctx, id)
	}, attribute.String(instrumentation.SpanAttrMessageID, id))
}
