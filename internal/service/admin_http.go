package service

import (
	"context"
	"strconv"

	"Bulwark/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationAdminListBreakers      = "/bulwark.admin.v1.Admin/ListBreakers"
	OperationAdminGetBreaker        = "/bulwark.admin.v1.Admin/GetBreaker"
	OperationAdminOpenBreaker       = "/bulwark.admin.v1.Admin/OpenBreaker"
	OperationAdminCloseBreaker      = "/bulwark.admin.v1.Admin/CloseBreaker"
	OperationAdminDeadLetters       = "/bulwark.admin.v1.Admin/DeadLetters"
	OperationAdminMessaging         = "/bulwark.admin.v1.Admin/Messaging"
	OperationAdminListInconsistency = "/bulwark.admin.v1.Admin/ListInconsistencies"
	OperationAdminFixInconsistency  = "/bulwark.admin.v1.Admin/FixInconsistency"
	OperationAdminConsistencyStats  = "/bulwark.admin.v1.Admin/ConsistencyStats"
	OperationAdminRunConsistency    = "/bulwark.admin.v1.Admin/RunConsistency"
	OperationAdminRunEntity         = "/bulwark.admin.v1.Admin/RunEntityConsistency"
	OperationAdminListRuns          = "/bulwark.admin.v1.Admin/ListRuns"
	OperationAdminListChecks        = "/bulwark.admin.v1.Admin/ListChecks"
	OperationAdminSetCheckEnabled   = "/bulwark.admin.v1.Admin/SetCheckEnabled"
	OperationAdminSetAlertThreshold = "/bulwark.admin.v1.Admin/SetAlertThreshold"
)

// SetCheckEnabledRequest is the body of PUT /admin/consistency/checks/{entity}.
type SetCheckEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAlertThresholdRequest is the body of PUT /admin/consistency/threshold.
type SetAlertThresholdRequest struct {
	Threshold int `json:"threshold"`
}

// RegisterAdminHTTPServer mounts the admin routes on s under /admin.
func RegisterAdminHTTPServer(s *http.Server, srv *AdminService) {
	r := s.Route("/admin")
	r.GET("/breakers", _Admin_ListBreakers_HTTP_Handler(srv))
	r.GET("/breakers/{name}", _Admin_GetBreaker_HTTP_Handler(srv))
	r.POST("/breakers/{name}/open", _Admin_OpenBreaker_HTTP_Handler(srv))
	r.POST("/breakers/{name}/close", _Admin_CloseBreaker_HTTP_Handler(srv))
	r.GET("/deadletters", _Admin_DeadLetters_HTTP_Handler(srv))
	r.GET("/messaging", _Admin_Messaging_HTTP_Handler(srv))
	r.GET("/consistency/inconsistencies", _Admin_ListInconsistencies_HTTP_Handler(srv))
	r.POST("/consistency/inconsistencies/{entity}/{id}/fix", _Admin_FixInconsistency_HTTP_Handler(srv))
	r.GET("/consistency/stats", _Admin_ConsistencyStats_HTTP_Handler(srv))
	r.POST("/consistency/run", _Admin_RunConsistency_HTTP_Handler(srv))
	r.POST("/consistency/run/{entity}", _Admin_RunEntityConsistency_HTTP_Handler(srv))
	r.GET("/consistency/runs", _Admin_ListRuns_HTTP_Handler(srv))
	r.GET("/consistency/checks", _Admin_ListChecks_HTTP_Handler(srv))
	r.PUT("/consistency/checks/{entity}", _Admin_SetCheckEnabled_HTTP_Handler(srv))
	r.PUT("/consistency/threshold", _Admin_SetAlertThreshold_HTTP_Handler(srv))
}

// invoke runs call through the server middleware chain and writes the reply.
func invoke(ctx http.Context, operation string, in interface{}, call func(context.Context, interface{}) (interface{}, error)) error {
	http.SetOperation(ctx, operation)
	h := ctx.Middleware(call)
	out, err := h(ctx, in)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func _Admin_ListBreakers_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return invoke(ctx, OperationAdminListBreakers, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.ListBreakers(ctx)
		})
	}
}

func _Admin_GetBreaker_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		name := ctx.Vars().Get("name")
		return invoke(ctx, OperationAdminGetBreaker, name, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetBreaker(ctx, req.(string))
		})
	}
}

func _Admin_OpenBreaker_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		name := ctx.Vars().Get("name")
		return invoke(ctx, OperationAdminOpenBreaker, name, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.OpenBreaker(ctx, req.(string))
		})
	}
}

func _Admin_CloseBreaker_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		name := ctx.Vars().Get("name")
		return invoke(ctx, OperationAdminCloseBreaker, name, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.CloseBreaker(ctx, req.(string))
		})
	}
}

func _Admin_DeadLetters_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		q := ctx.Query()
		limit, err := intParam(q.Get("limit"), "limit")
		if err != nil {
			return err
		}
		topic := q.Get("topic")
		return invoke(ctx, OperationAdminDeadLetters, topic, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.DeadLetters(ctx, req.(string), limit)
		})
	}
}

func _Admin_Messaging_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return invoke(ctx, OperationAdminMessaging, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.Messaging(ctx)
		})
	}
}

func _Admin_ListInconsistencies_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		f, err := ledgerFilter(ctx)
		if err != nil {
			return err
		}
		return invoke(ctx, OperationAdminListInconsistency, f, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListInconsistencies(ctx, req.(biz.LedgerFilter))
		})
	}
}

func _Admin_FixInconsistency_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		vars := ctx.Vars()
		entity, id := vars.Get("entity"), vars.Get("id")
		return invoke(ctx, OperationAdminFixInconsistency, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.FixInconsistency(ctx, entity, id)
		})
	}
}

func _Admin_ConsistencyStats_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return invoke(ctx, OperationAdminConsistencyStats, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.ConsistencyStats(ctx)
		})
	}
}

func _Admin_RunConsistency_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return invoke(ctx, OperationAdminRunConsistency, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.RunConsistency(ctx)
		})
	}
}

func _Admin_RunEntityConsistency_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		entity := ctx.Vars().Get("entity")
		return invoke(ctx, OperationAdminRunEntity, entity, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.RunEntityConsistency(ctx, req.(string))
		})
	}
}

func _Admin_ListRuns_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		limit, err := intParam(ctx.Query().Get("limit"), "limit")
		if err != nil {
			return err
		}
		return invoke(ctx, OperationAdminListRuns, limit, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListRuns(ctx, req.(int))
		})
	}
}

func _Admin_ListChecks_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		return invoke(ctx, OperationAdminListChecks, nil, func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.ListChecks(ctx)
		})
	}
}

func _Admin_SetCheckEnabled_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in SetCheckEnabledRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		entity := ctx.Vars().Get("entity")
		return invoke(ctx, OperationAdminSetCheckEnabled, &in, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.SetCheckEnabled(ctx, entity, req.(*SetCheckEnabledRequest).Enabled)
		})
	}
}

func _Admin_SetAlertThreshold_HTTP_Handler(srv *AdminService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in SetAlertThresholdRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		return invoke(ctx, OperationAdminSetAlertThreshold, &in, func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.SetAlertThreshold(ctx, req.(*SetAlertThresholdRequest).Threshold)
		})
	}
}

func ledgerFilter(ctx http.Context) (biz.LedgerFilter, error) {
	q := ctx.Query()
	f := biz.LedgerFilter{
		EntityType: q.Get("entityType"),
		Type:       biz.InconsistencyType(q.Get("type")),
	}
	if v := q.Get("fixed"); v != "" {
		fixed, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.BadRequest("INVALID_ARGUMENT", "fixed must be a boolean")
		}
		f.Fixed = &fixed
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		return f, err
	}
	f.Limit = limit
	return f, nil
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.BadRequest("INVALID_ARGUMENT", name+" must be a non-negative integer")
	}
	return n, nil
}
