package tendermint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SnapshotHome copies the node home into a numbered sibling directory
// before a hard reset, for dev-mode post-mortems. Files copied from
// read-only sources are made writable so old snapshots can be removed
// with plain tooling. Read errors are counted, logged and skipped; only
// a failure to create the snapshot root is an error.
func (n *Node) SnapshotHome() (string, error) {
	count := n.resetCount.Add(1)
	dest := fmt.Sprintf("%s_snapshot_%d", filepath.Clean(n.cfg.Home), count)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}

	var readErrors int
	err := filepath.WalkDir(n.cfg.Home, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			readErrors++
			return nil
		}

		rel, relErr := filepath.Rel(n.cfg.Home, path)
		if relErr != nil || rel == "." {
			return nil
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			if mkErr := os.MkdirAll(target, 0o755); mkErr != nil {
				readErrors++
			}
			return nil
		}

		if copyErr := copyFileWritable(path, target); copyErr != nil {
			readErrors++
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if readErrors > 0 {
		n.logger.Warn("Snapshot completed with skipped files", "dest", dest, "skipped", readErrors)
	} else {
		n.logger.Info("Node home snapshotted", "dest", dest)
	}
	return dest, nil
}

// copyFileWritable copies src to dst, forcing owner write permission on
// the copy.
func copyFileWritable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	mode := info.Mode().Perm() | 0o200

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
