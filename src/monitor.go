package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	arguments "github.com/dba-platform/rds-slowquery-monitor/src/args"
	instanceinventory "github.com/dba-platform/rds-slowquery-monitor/src/instance-inventory"
	logdigest "github.com/dba-platform/rds-slowquery-monitor/src/log-digest-collection"
	cloudwatch "github.com/dba-platform/rds-slowquery-monitor/src/log-digest-collection/cloudwatch"
	progress "github.com/dba-platform/rds-slowquery-monitor/src/progress"
	orchestrator "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/orchestrator"
	statistics "github.com/dba-platform/rds-slowquery-monitor/src/statistics"
	storage "github.com/dba-platform/rds-slowquery-monitor/src/storage"
	timeutils "github.com/dba-platform/rds-slowquery-monitor/src/time-utils"
)

const stopGracePeriod = 30 * time.Second

var (
	buildVersion = "0.0.0"
	gitCommit    = ""
	buildDate    = ""
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("rds-slowquery-monitor %s (commit %s, built %s)\n", buildVersion, gitCommit, buildDate)
		return
	}

	args, err := arguments.Load()
	fatalIfErr(err)

	setupLogging(args.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := storage.Connect(ctx, args.MongoURI)
	fatalIfErr(err)
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logrus.WithError(err).Warn("Error disconnecting from MongoDB")
		}
	}()

	store := storage.NewStore(client, args.MongoDatabase, storage.Collections{
		Instances:       args.InstanceCollection,
		RealtimeSlowSQL: args.RealtimeSlowSQLCollection,
		RealtimePlans:   args.RealtimePlanCollection,
		Digests:         args.DigestCollection,
		Statistics:      args.StatisticsCollection,
		UserStatistics:  args.UserStatisticsCollection,
	})
	inventory := instanceinventory.New(store)

	command := "monitor"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "monitor":
		fatalIfErr(runMonitor(ctx, args, store, inventory))
	case "collect":
		fatalIfErr(runCollect(ctx, args, store, inventory, os.Args[2:]))
	case "stats":
		fatalIfErr(runStats(ctx, store, os.Args[2:]))
	default:
		fatalIfErr(fmt.Errorf("unknown command %q (expected monitor, collect, stats or version)", command))
	}
}

// runMonitor starts one realtime sampling loop per tagged instance and blocks
// until the process is signalled.
func runMonitor(ctx context.Context, args arguments.ArgumentList, store *storage.Store, inventory *instanceinventory.Inventory) error {
	targets, err := inventory.RealtimeTargets(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no instances tagged for realtime monitoring")
	}

	orch := orchestrator.New(orchestrator.Settings{
		MgmtUser:      args.MgmtUser,
		MgmtPassword:  args.MgmtUserPass,
		Threshold:     args.SlowQueryThreshold,
		Interval:      time.Duration(args.MonitoringInterval) * time.Second,
		ExcludedDBs:   args.ExcludedDatabases,
		ExcludedUsers: args.ExcludedUsers,
	}, store)

	if err := orch.StartAll(ctx, targets); err != nil {
		return err
	}
	logrus.WithField("instances", len(targets)).Info("Realtime slow query monitoring started")

	<-ctx.Done()
	logrus.Info("Shutdown signal received, stopping monitors")
	return orch.StopAll(stopGracePeriod)
}

// runCollect fetches and persists slow log digests for a date range given as
// "collect YYYY-MM-DD YYYY-MM-DD" (end exclusive). With no arguments it
// collects yesterday.
func runCollect(ctx context.Context, args arguments.ArgumentList, store *storage.Store, inventory *instanceinventory.Inventory, rangeArgs []string) error {
	start, end, err := collectionWindow(rangeArgs)
	if err != nil {
		return err
	}

	client, err := cloudwatch.NewLogsClient(ctx, cloudwatch.Credentials{
		Region:         args.AWSRegion,
		Mode:           args.AWSCredentialMode,
		Profile:        args.AWSProfile,
		AccessKey:      args.AWSAccessKey,
		SecretKey:      args.AWSSecretKey,
		RoleArn:        args.AWSRoleArn,
		RoleExternalID: args.AWSRoleExternalID,
	})
	if err != nil {
		return err
	}

	display, err := timeutils.NewConverter(args.DisplayTimezone)
	if err != nil {
		return err
	}

	fetcher := cloudwatch.NewFetcher(client, cloudwatch.FetcherConfig{
		MaxStreams:     args.MaxLogStreams,
		ChunkSize:      args.StreamChunkSize,
		StreamEventCap: args.StreamEventCap,
	})
	collector := logdigest.NewCollector(fetcher, store, inventory, display, logdigest.CollectorConfig{
		InstanceChunkSize: args.InstanceChunkSize,
	})

	return collector.CollectRange(ctx, start, end, progress.LogReporter{})
}

// runStats recomputes the monthly rollups for "stats YYYY-MM"; with no
// argument it recomputes the current month.
func runStats(ctx context.Context, store *storage.Store, monthArgs []string) error {
	month := timeutils.MonthKey(timeutils.NowUTC())
	if len(monthArgs) > 0 {
		month = monthArgs[0]
	}
	return statistics.NewRollup(store, store).RunMonth(ctx, month)
}

func collectionWindow(rangeArgs []string) (time.Time, time.Time, error) {
	if len(rangeArgs) == 0 {
		end := timeutils.DayStartUTC(timeutils.NowUTC())
		return end.Add(-24 * time.Hour), end, nil
	}
	if len(rangeArgs) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("collect expects either no arguments or a start and end date")
	}

	start, err := time.Parse("2006-01-02", rangeArgs[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", rangeArgs[0], err)
	}
	end, err := time.Parse("2006-01-02", rangeArgs[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", rangeArgs[1], err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s must be before end date %s", rangeArgs[0], rangeArgs[1])
	}
	return start, end, nil
}

func setupLogging(verbose bool) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func fatalIfErr(err error) {
	if err != nil {
		logrus.WithError(err).Fatal("Exiting")
	}
}
