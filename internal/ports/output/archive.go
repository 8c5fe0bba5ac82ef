package output

import "context"

// ArchiveSession is one authenticated connection to the product archive.
//
// A session is stateful: DownloadLatest fetches the product found by the last
// successful Query. Sessions are not safe for concurrent use; the orchestrator
// binds each task to exactly one session.
type ArchiveSession interface {
	// Refresh renews the session's access token.
	Refresh(ctx context.Context) error

	// Query looks a product up by name. Unknown products yield
	// domain.ErrProductNotFound.
	Query(ctx context.Context, name string) error

	// DownloadLatest fetches the last queried product into targetDir,
	// producing targetDir/<name>/.
	DownloadLatest(ctx context.Context, targetDir string) error
}
