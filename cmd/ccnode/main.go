// Command ccnode runs a simulated control-component node against the same queues
// the orchestrator uses. Configure it with CC_NODE_ID, CC_QUEUE_NAMES and REDIS_ADDR.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/threshold-orchestrator/internal/ccnode"
	"github.com/yungbote/threshold-orchestrator/internal/codec"
	"github.com/yungbote/threshold-orchestrator/internal/config"
	"github.com/yungbote/threshold-orchestrator/internal/domain"
	"github.com/yungbote/threshold-orchestrator/internal/platform/envutil"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
	"github.com/yungbote/threshold-orchestrator/internal/platform/shutdown"
	"github.com/yungbote/threshold-orchestrator/internal/transport"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Error("ccnode exited", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	nodeID := envutil.String("CC_NODE_ID", "")
	routes, err := config.NodeQueues(envutil.String("CC_QUEUE_NAMES", "{}"), nodeID)
	if err != nil {
		return err
	}
	envCodec, err := codec.ByName[domain.Envelope](envutil.String("ORCH_CODEC", "json"))
	if err != nil {
		return err
	}
	tr, err := transport.DialRedis(log, envutil.String("REDIS_ADDR", ""), transport.RedisOptions{
		KeyPrefix:    envutil.String("REDIS_KEY_PREFIX", "orch:"),
		BlockTimeout: envutil.Duration("REDIS_BLOCK_TIMEOUT", time.Second),
	})
	if err != nil {
		return err
	}
	defer tr.Close()

	node, err := ccnode.New(log, tr, ccnode.Config{
		NodeID: nodeID,
		Codec:  envCodec,
		Delay:  envutil.Duration("CC_NODE_DELAY", 0),
		Jitter: envutil.Duration("CC_NODE_JITTER", 0),
	})
	if err != nil {
		return err
	}
	for op, r := range routes {
		if err := node.Serve(ccnode.Route{Operation: op, Request: r.Request, Response: r.Response}); err != nil {
			node.Stop()
			return err
		}
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()
	<-ctx.Done()

	node.Stop()
	log.Info("ccnode stopped", "handled", node.Handled(), "failed", node.Failed())
	return nil
}
