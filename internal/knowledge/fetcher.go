package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher serves file:// uris from the local filesystem and, when Root
// is set, drop:// uris relative to the drop directory. It is the default
// ContentFetcher wired by the daemon; deployments with external byte
// storage supply their own.
type FileFetcher struct {
	// Root anchors drop:// uris. Empty disables the scheme.
	Root string
}

var _ ContentFetcher = FileFetcher{}

func (f FileFetcher) FetchBytes(_ context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return os.ReadFile(filepath.FromSlash(strings.TrimPrefix(uri, "file://")))

	case strings.HasPrefix(uri, "drop://"):
		if f.Root == "" {
			return nil, fmt.Errorf("%w: no drop directory configured for %q", ErrNotFound, uri)
		}
		rel := filepath.FromSlash(strings.TrimPrefix(uri, "drop://"))
		root := filepath.Clean(f.Root)
		path := filepath.Join(root, rel)
		// A crafted uri must not escape the drop directory.
		if path != root && !strings.HasPrefix(path, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%w: %q escapes the drop directory", ErrNotFound, uri)
		}
		return os.ReadFile(path)

	default:
		return nil, fmt.Errorf("%w: unsupported uri scheme in %q", ErrNotFound, uri)
	}
}
