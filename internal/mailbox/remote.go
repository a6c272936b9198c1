package mailbox

import "context"

// RemoteClient is the capability the engine needs from the remote mailbox.
// Implementations hold one logical session and serialize their calls.
//
// Errors should carry a Kind (see Error); untyped errors are treated as
// RemoteUnavailable by the engine.
type RemoteClient interface {
	Connect(ctx context.Context) error
	Disconnect() error

	ListFolders(ctx context.Context) ([]RemoteFolder, error)
	// FetchRange returns messages newer than cursor, or the whole folder
	// when cursor is empty or no longer valid.
	FetchRange(ctx context.Context, folder string, cursor Cursor) (*FetchResult, error)
	FetchByID(ctx context.Context, id string) (*Message, error)

	SetFlag(ctx context.Context, id string, flag Flag, value bool) error
	Move(ctx context.Context, id, folder string) error
	Delete(ctx context.Context, id string) error
}
