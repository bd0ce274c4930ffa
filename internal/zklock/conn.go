// Package zklock provides a ZooKeeper-backed distributed lock, used to
// elect a single outbox forwarder across service replicas.
package zklock

import (
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// Conn wraps the zk connection so application logic can hang off it.
type Conn struct {
	*zk.Conn
}

const connTimeout = 5 * time.Second

// Connect establishes a ZooKeeper session and logs state transitions in the
// background.
func Connect(servers []string) (*Conn, error) {
	c, eventChan, err := zk.Connect(servers, connTimeout)
	if err != nil {
		return nil, err
	}

	go func() {
		for event := range eventChan {
			if event.Type != zk.EventSession {
				continue
			}
			switch event.State {
			case zk.StateConnected:
				logger.Logger.Println("Connected to ZooKeeper.")
			case zk.StateDisconnected:
				logger.Logger.Println("Disconnected from ZooKeeper.")
			case zk.StateExpired:
				// Expiry tears down ephemeral nodes; any held lock is gone.
				logger.Logger.Println("ZooKeeper session expired.")
			}
		}
	}()

	return &Conn{c}, nil
}
