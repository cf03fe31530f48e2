package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root of the process configuration.
type Bootstrap struct {
	Server      *Server
	Data        *Data
	Log         *Log
	Breaker     *Breaker
	Retry       *Retry
	DeadLetter  *DeadLetter
	Consistency *Consistency
}

type Server struct {
	Http *Server_HTTP
	Grpc *Server_GRPC
}

type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

type Server_GRPC struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
	Kafka    *Data_Kafka
}

type Data_Database struct {
	Driver          string
	Source          string
	MaxIdleConns    int32
	MaxOpenConns    int32
	ConnMaxLifetime *durationpb.Duration
}

type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	Db           int32
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Data_Kafka 为空 Brokers 时消息功能降级为仅记录日志
type Data_Kafka struct {
	Brokers         []string
	GroupId         string
	ClientId        string
	PollTimeout     *durationpb.Duration
	DeliveryTimeout *durationpb.Duration
	ConnectTimeout  *durationpb.Duration
}

type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Breaker holds breaker presets. Zero fields fall back to the package defaults.
type Breaker struct {
	Defaults *Breaker_Settings
	Database *Breaker_Settings
	Cache    *Breaker_Settings
}

// Breaker_Settings.ErrorThresholdPercentage 为 nil 表示未配置，0 是合法阈值
type Breaker_Settings struct {
	Timeout                  *durationpb.Duration
	ErrorThresholdPercentage *float64
	ResetTimeout             *durationpb.Duration
	RollingWindow            *durationpb.Duration
	RollingBuckets           int32
	VolumeThreshold          uint32
	Enabled                  bool
}

type Retry struct {
	MaxRetries        int32
	InitialBackoff    *durationpb.Duration
	BackoffMultiplier float64
	MaxBackoff        *durationpb.Duration
}

type DeadLetter struct {
	AlertEvery     int64
	RecentCapacity int32
}

type Consistency struct {
	Cron           string
	AlertThreshold int32
	BatchSize      int32
	FixRate        float64
	CacheTtl       *durationpb.Duration
	ReportTopic    string
	RequestTopic   string
	Checks         []*Consistency_Check
}

// Consistency_Check declares one entity type to reconcile.
type Consistency_Check struct {
	EntityName      string
	Table           string
	CacheKeyPrefix  string
	IdField         string
	FieldsToCompare []string
	AutoFix         bool
	Enabled         bool
	Cron            string
}

func (x *Data) GetKafka() *Data_Kafka {
	if x != nil {
		return x.Kafka
	}
	return nil
}

func (x *Data_Kafka) GetBrokers() []string {
	if x != nil {
		return x.Brokers
	}
	return nil
}

func (x *Bootstrap) GetConsistency() *Consistency {
	if x != nil {
		return x.Consistency
	}
	return nil
}

func (x *Consistency) GetChecks() []*Consistency_Check {
	if x != nil {
		return x.Checks
	}
	return nil
}

func (x *Breaker) GetDefaults() *Breaker_Settings {
	if x != nil {
		return x.Defaults
	}
	return nil
}

func (x *Breaker) GetDatabase() *Breaker_Settings {
	if x != nil {
		return x.Database
	}
	return nil
}

func (x *Breaker) GetCache() *Breaker_Settings {
	if x != nil {
		return x.Cache
	}
	return nil
}

func (x *Consistency) GetRequestTopic() string {
	if x != nil {
		return x.RequestTopic
	}
	return ""
}

func (x *Server) GetHttp() *Server_HTTP {
	if x != nil {
		return x.Http
	}
	return nil
}

func (x *Server) GetGrpc() *Server_GRPC {
	if x != nil {
		return x.Grpc
	}
	return nil
}

func (x *Server_HTTP) GetAddr() string {
	if x != nil {
		return x.Addr
	}
	return ""
}

func (x *Server_GRPC) GetAddr() string {
	if x != nil {
		return x.Addr
	}
	return ""
}

func (x *Breaker_Settings) GetErrorThresholdPercentage() float64 {
	if x != nil && x.ErrorThresholdPercentage != nil {
		return *x.ErrorThresholdPercentage
	}
	return 0
}
