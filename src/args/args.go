package args

import (
	"errors"
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/subosito/gotenv"
	"go.uber.org/multierr"
)

// ArgumentList holds every runtime setting for the monitor. Values come from
// the environment, optionally seeded from a .env file.
type ArgumentList struct {
	// MongoDB
	MongoURI                    string `env:"MONGODB_URI,default=mongodb://localhost:27017"`
	MongoDatabase               string `env:"MONGODB_DB_NAME,default=mgmt_db_mysql"`
	InstanceCollection          string `env:"MONGO_RDS_INSTANCE_COLLECTION,default=rds_instances"`
	RealtimeSlowSQLCollection   string `env:"MONGO_RDS_MYSQL_SLOW_SQL_COLLECTION,default=rds_mysql_realtime_slow_query"`
	RealtimePlanCollection      string `env:"MONGO_RDS_MYSQL_SLOW_SQL_PLAN_COLLECTION,default=rds_mysql_slow_query_explain"`
	DigestCollection            string `env:"MONGO_CW_MYSQL_SLOW_SQL_COLLECTION,default=rds_mysql_cw_slow_query_digest"`
	StatisticsCollection        string `env:"MONGO_CW_SQL_STATISTICS,default=rds_mysql_cw_sql_statistics"`
	UserStatisticsCollection    string `env:"MONGO_CW_SQL_USER_STATISTICS,default=rds_mysql_cw_sql_user_statistics"`

	// Management MySQL account used against every monitored instance.
	MgmtUser     string `env:"MGMT_USER,default=mysql_mgmt"`
	MgmtUserPass string `env:"MGMT_USER_PASS"`

	// Realtime sampler
	SlowQueryThreshold int      `env:"EXEC_TIME,default=2"`
	MonitoringInterval int      `env:"MONITORING_INTERVAL,default=1"`
	ExcludedDatabases  []string `env:"EXCLUDED_DBS,default=information_schema;mysql;performance_schema;sys"`
	ExcludedUsers      []string `env:"EXCLUDED_USERS,default=monitor;rdsadmin;system user;mysql_mgmt"`

	// CloudWatch batch collection
	AWSRegion          string `env:"AWS_REGION,default=ap-northeast-2"`
	AWSCredentialMode  string `env:"AWS_CREDENTIAL_MODE,default=profile"`
	AWSProfile         string `env:"AWS_PROFILE"`
	AWSAccessKey       string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey       string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSRoleArn         string `env:"AWS_ROLE_ARN"`
	AWSRoleExternalID  string `env:"AWS_ROLE_EXTERNAL_ID"`
	MaxLogStreams      int    `env:"CW_MAX_LOG_STREAMS,default=50"`
	StreamChunkSize    int    `env:"CW_STREAM_CHUNK_SIZE,default=5"`
	InstanceChunkSize  int    `env:"CW_INSTANCE_CHUNK_SIZE,default=5"`
	StreamEventCap     int    `env:"CW_STREAM_EVENT_CAP,default=10000"`

	// Reporting boundary display zone; internal times are always UTC.
	DisplayTimezone string `env:"DISPLAY_TIMEZONE,default=Asia/Seoul"`

	Verbose bool `env:"VERBOSE,default=false"`
}

// Load reads an optional .env file and decodes the environment into an
// ArgumentList.
func Load() (ArgumentList, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := gotenv.Load(".env"); err != nil {
			return ArgumentList{}, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	var args ArgumentList
	if err := envdecode.Decode(&args); err != nil {
		return ArgumentList{}, fmt.Errorf("error decoding environment: %w", err)
	}

	if err := args.Validate(); err != nil {
		return ArgumentList{}, err
	}
	return args, nil
}

// Validate checks settings that have no usable zero value.
func (a ArgumentList) Validate() error {
	var err error

	if a.MongoURI == "" {
		err = multierr.Append(err, errors.New("MONGODB_URI must not be empty"))
	}
	if a.MgmtUserPass == "" {
		err = multierr.Append(err, errors.New("MGMT_USER_PASS must be set"))
	}
	if a.SlowQueryThreshold <= 0 {
		err = multierr.Append(err, errors.New("EXEC_TIME must be a positive number of seconds"))
	}
	if a.MonitoringInterval <= 0 {
		err = multierr.Append(err, errors.New("MONITORING_INTERVAL must be a positive number of seconds"))
	}
	if a.StreamChunkSize <= 0 || a.InstanceChunkSize <= 0 {
		err = multierr.Append(err, errors.New("chunk sizes must be positive"))
	}

	switch a.AWSCredentialMode {
	case "profile", "access_keys", "role_delegation":
	default:
		err = multierr.Append(err, fmt.Errorf("AWS_CREDENTIAL_MODE must be one of profile | access_keys | role_delegation, got %q", a.AWSCredentialMode))
	}

	return err
}
