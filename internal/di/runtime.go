package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vinylogix/api/internal/platform/config"
	"github.com/vinylogix/api/internal/platform/idempotency"
	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
	"github.com/vinylogix/api/internal/platform/jobs"
	"github.com/vinylogix/api/internal/repositories"
	firestorerepo "github.com/vinylogix/api/internal/repositories/firestore"
	"github.com/vinylogix/api/internal/repositories/memory"
	"github.com/vinylogix/api/internal/services"
)

const pubsubProbeTimeout = 2 * time.Second

// Runtime holds the process-scoped clients opened from configuration.
type Runtime struct {
	Registry repositories.Registry
	// Publisher is nil when no Pub/Sub project is configured.
	Publisher services.ShipmentNoticePublisher
	// RequestKeys shares the storage backend selected for the registry.
	RequestKeys idempotency.Store

	pubsub *pubsub.Client
	topic  *pubsub.Topic
}

// OpenRuntime selects the storage backend and dials Pub/Sub for shipment notices.
func OpenRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{}

	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		client, err := pubsub.NewClient(ctx, projectID, pubsubClientOptions(cfg.PubSub)...)
		if err != nil {
			return nil, fmt.Errorf("pubsub: create client: %w", err)
		}
		rt.pubsub = client
		rt.topic = client.Topic(cfg.PubSub.ShipmentTopic)
		publisher, err := jobs.NewPubSubShipmentPublisher(rt.topic)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		rt.Publisher = publisher
	} else {
		logger.Warn("pubsub project not configured; shipment notices are disabled")
	}

	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage; data is lost on exit")
		rt.Registry = memory.NewRegistry()
		rt.RequestKeys = idempotency.NewMemoryStore()
	default:
		var checks []repositories.DependencyCheck
		if rt.topic != nil {
			topic := rt.topic
			checks = append(checks, repositories.DependencyCheck{
				Name:    "pubsub",
				Timeout: pubsubProbeTimeout,
				Check: func(ctx context.Context) error {
					ok, err := topic.Exists(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("topic %s does not exist", topic.ID())
					}
					return nil
				},
			})
		}
		provider := pfirestore.NewProvider(cfg.Firestore)
		registry, err := firestorerepo.NewRegistry(provider, checks...)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("firestore registry: %w", err)
		}
		keys, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			_ = registry.Close(ctx)
			_ = rt.Close(ctx)
			return nil, err
		}
		rt.Registry = registry
		rt.RequestKeys = keys
	}
	return rt, nil
}

// Close flushes pending Pub/Sub publishes and closes the client. The registry is owned by the Container.
func (r *Runtime) Close(context.Context) error {
	if r == nil {
		return nil
	}
	if r.topic != nil {
		r.topic.Stop()
	}
	if r.pubsub != nil {
		if err := r.pubsub.Close(); err != nil {
			return fmt.Errorf("pubsub: close client: %w", err)
		}
	}
	return nil
}

func pubsubClientOptions(cfg config.PubSubConfig) []option.ClientOption {
	host := strings.TrimSpace(cfg.EmulatorHost)
	if host == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithoutAuthentication(),
		option.WithEndpoint(host),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

// errRuntimeUnavailable is returned by commands that need a registry when none could be opened.
var errRuntimeUnavailable = errors.New("runtime is not initialised")

// NewContainerFromRuntime builds a Container over an opened Runtime.
func NewContainerFromRuntime(ctx context.Context, cfg config.Config, rt *Runtime, opts ...Option) (*Container, error) {
	if rt == nil || rt.Registry == nil {
		return nil, errRuntimeUnavailable
	}
	if rt.Publisher != nil {
		opts = append([]Option{WithShipmentPublisher(rt.Publisher)}, opts...)
	}
	if rt.RequestKeys != nil {
		opts = append([]Option{WithRequestKeyStore(rt.RequestKeys)}, opts...)
	}
	return NewContainer(ctx, cfg, rt.Registry, opts...)
}
