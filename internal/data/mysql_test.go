package data

import (
	"testing"
	"time"

	"Bulwark/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/durationpb"
)

type recordedPool struct {
	maxIdle, maxOpen   int
	lifetime, idleTime time.Duration
}

func (p *recordedPool) SetMaxIdleConns(n int)              { p.maxIdle = n }
func (p *recordedPool) SetMaxOpenConns(n int)              { p.maxOpen = n }
func (p *recordedPool) SetConnMaxLifetime(d time.Duration) { p.lifetime = d }
func (p *recordedPool) SetConnMaxIdleTime(d time.Duration) { p.idleTime = d }

func TestConfigurePool(t *testing.T) {
	tests := []struct {
		name string
		conf *conf.Data_Database
		want recordedPool
	}{
		{
			name: "defaults",
			conf: &conf.Data_Database{},
			want: recordedPool{maxIdle: 10, maxOpen: 100, lifetime: time.Hour, idleTime: 10 * time.Minute},
		},
		{
			name: "configured",
			conf: &conf.Data_Database{MaxIdleConns: 4, MaxOpenConns: 16, ConnMaxLifetime: durationpb.New(30 * time.Minute)},
			want: recordedPool{maxIdle: 4, maxOpen: 16, lifetime: 30 * time.Minute, idleTime: 10 * time.Minute},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got recordedPool
			configurePool(&got, tt.conf)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMySQLClient_RequiresSource(t *testing.T) {
	for _, c := range []*conf.Data{nil, {}, {Database: &conf.Data_Database{Driver: "mysql"}}} {
		db, cleanup, err := NewMySQLClient(c, log.DefaultLogger)
		assert.Error(t, err)
		assert.Nil(t, db)
		assert.Nil(t, cleanup)
	}
}
