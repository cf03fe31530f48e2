package server

import (
	"context"
	"errors"

	"Bulwark/internal/biz"
	"Bulwark/internal/conf"
	"Bulwark/internal/service"
	"Bulwark/pkg/messaging"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
)

var _ transport.Server = (*JobServer)(nil)

// JobServer runs the background work: the consistency cron and the Kafka poll loop.
type JobServer struct {
	consumer  *messaging.Consumer
	scheduler *biz.Scheduler
	log       *pkglog.LogHelper
}

// NewJobServer registers the consistency request handler behind the retry
// pipeline. Subscriptions are deferred until Start.
func NewJobServer(
	c *conf.Consistency,
	consumer *messaging.Consumer,
	retrier *messaging.Retrier,
	retryCfg messaging.RetryConfig,
	requests *service.ConsistencyRequestService,
	scheduler *biz.Scheduler,
	logger log.Logger,
) *JobServer {
	s := &JobServer{
		consumer:  consumer,
		scheduler: scheduler,
		log:       pkglog.NewLogHelper(logger),
	}
	if topic := c.GetRequestTopic(); topic != "" {
		consumer.Subscribe(topic, retrier.CreateRetryHandler(requests.Handle, retryCfg, consumer.GroupID()))
	}
	return s
}

// Start installs the cron triggers and starts consuming. Kafka being
// unavailable is not fatal: the cron and the admin API keep working.
func (s *JobServer) Start(ctx context.Context) error {
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	if err := s.consumer.StartConsuming(ctx); err != nil {
		if !errors.Is(err, messaging.ErrNotConnected) {
			s.log.MessagingWarn("consumer failed to start", "error", err)
		}
		return nil
	}
	subscribed, pending := s.consumer.Topics()
	s.log.Startup("job server started", "subscribed", subscribed, "pending", pending)
	return nil
}

// Stop stops the poll loop, then the cron, each bounded by ctx.
func (s *JobServer) Stop(ctx context.Context) error {
	cerr := s.consumer.Stop(ctx)
	serr := s.scheduler.Stop(ctx)
	return errors.Join(cerr, serr)
}
