package service

import (
	"context"
	"strings"

	"Bulwark/internal/biz"
	"Bulwark/internal/model"
	"Bulwark/pkg/messaging"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	json "github.com/goccy/go-json"
)

// ErrInvalidConsistencyRequest marks a request message that cannot be decoded.
var ErrInvalidConsistencyRequest = errors.BadRequest("INVALID_CONSISTENCY_REQUEST", "consistency request must be {\"entityName\": \"...\"}")

// ConsistencyRequestService handles messages on the consistency request topic.
type ConsistencyRequestService struct {
	scheduler *biz.Scheduler
	logger    *pkglog.LogHelper
}

// NewConsistencyRequestService creates a new ConsistencyRequestService instance.
func NewConsistencyRequestService(scheduler *biz.Scheduler, logger log.Logger) *ConsistencyRequestService {
	return &ConsistencyRequestService{
		scheduler: scheduler,
		logger:    pkglog.NewLogHelper(logger),
	}
}

// Handle runs the check named by the message. Undecodable or unknown
// requests fail so the retry pipeline eventually dead-letters them.
func (s *ConsistencyRequestService) Handle(ctx context.Context, msg *messaging.Message) error {
	var req model.ConsistencyRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return ErrInvalidConsistencyRequest.WithCause(err)
	}
	name := strings.TrimSpace(req.EntityName)
	if name == "" {
		return ErrInvalidConsistencyRequest
	}

	kvs := []interface{}{"entity", name}
	if mc, ok := pkglog.MessageContextFrom(ctx); ok {
		kvs = append(kvs, mc.Keyvals()...)
	}
	s.logger.Scheduler("consistency check requested", kvs...)

	report, err := s.scheduler.RunOne(ctx, name)
	if err != nil {
		return err
	}
	s.logger.Scheduler("requested consistency check finished",
		"entity", name,
		"found", report.Found,
		"fixed", report.Fixed,
		"duration_ms", report.Duration.Milliseconds())
	return nil
}
