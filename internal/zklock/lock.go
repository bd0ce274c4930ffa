package zklock

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const lockRoot = "/nexus/locks"

// Lock is a distributed lock built on ephemeral sequential nodes: the holder
// is the lowest sequence number, everyone else watches their predecessor.
// It satisfies outbox.LeaderGate.
type Lock struct {
	conn     *Conn
	path     string
	lockNode string
}

func NewLock(conn *Conn, resourceID string) (*Lock, error) {
	lockPath := lockRoot + "/" + resourceID
	if err := ensurePath(conn, lockPath); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure lock path %s", lockPath)
	}
	return &Lock{
		conn: conn,
		path: lockPath,
	}, nil
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Strings(children)

		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if myNodeName == children[0] {
			return nil
		}

		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			return errors.New("cannot find previous node, something is wrong")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		_, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			// The predecessor may have vanished between listing and
			// watching; just re-enter the loop.
			if err == zk.ErrNoNode {
				continue
			}
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-ctx.Done():
			_ = l.Release()
			return ctx.Err()
		}
	}
}

// Release deletes this holder's node. Safe to call when not holding.
func (l *Lock) Release() error {
	if l.lockNode == "" {
		return nil
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

// ensurePath creates every component of path that does not yet exist,
// tolerating concurrent creators.
func ensurePath(conn *Conn, path string) error {
	parts := strings.Split(path, "/")
	currentPath := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		currentPath += "/" + part
		exists, _, err := conn.Exists(currentPath)
		if err != nil {
			return fmt.Errorf("failed to check existence of path %s: %w", currentPath, err)
		}
		if !exists {
			_, err := conn.Create(currentPath, []byte{}, 0, zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return fmt.Errorf("failed to create path %s: %w", currentPath, err)
			}
		}
	}
	return nil
}
