package data

import (
	"context"
	"fmt"

	"Bulwark/internal/model"
	"Bulwark/pkg/breaker"
	pkgerrors "Bulwark/pkg/errors"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm/clause"
)

// EntityStore reads entity tables in keyset-paginated batches.
type EntityStore struct {
	data *Data
	log  *pkglog.LogHelper
}

// NewEntityStore creates an EntityStore.
func NewEntityStore(d *Data, logger log.Logger) *EntityStore {
	return &EntityStore{data: d, log: pkglog.NewLogHelper(logger)}
}

// ScanRows visits every row of table ordered by idField. Each batch is a separate
// query (WHERE id > last ORDER BY id LIMIT n), so no transaction is held open.
func (s *EntityStore) ScanRows(ctx context.Context, table, idField string, batchSize int, visit func([]model.EntityRow) error) error {
	if s.data.db == nil {
		return ErrDatabaseUnavailable
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	var last interface{}
	for batchNo := 1; ; batchNo++ {
		after := last
		rows, err := breaker.Execute(ctx, s.data.breakers, BreakerMySQL, &s.data.dbBreaker,
			func(ctx context.Context) ([]map[string]interface{}, error) {
				var rows []map[string]interface{}
				q := s.data.db.WithContext(ctx).Table(table)
				if after != nil {
					q = q.Where(clause.Gt{Column: clause.Column{Name: idField}, Value: after})
				}
				err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: idField}}).
					Limit(batchSize).
					Find(&rows).Error
				return rows, err
			})
		if err != nil {
			if breaker.IsCircuitOpen(err) || breaker.IsTimeout(err) {
				return err
			}
			return fmt.Errorf("scan %s batch %d: %w", table, batchNo, pkgerrors.ClassifyDBError(err))
		}

		s.log.Database("entity batch loaded", "table", table, "batch", batchNo, "rows", len(rows))
		if len(rows) == 0 {
			return nil
		}

		batch := make([]model.EntityRow, len(rows))
		for i, r := range rows {
			for k, v := range r {
				// 文本列可能以 []byte 返回
				if b, ok := v.([]byte); ok {
					r[k] = string(b)
				}
			}
			batch[i] = model.EntityRow(r)
		}
		if err := visit(batch); err != nil {
			return err
		}

		last = rows[len(rows)-1][idField]
		if len(rows) < batchSize || last == nil {
			return nil
		}
	}
}
