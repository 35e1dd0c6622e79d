package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/sirupsen/logrus"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
)

// LogsAPI is the subset of the CloudWatch Logs client the fetcher uses.
type LogsAPI interface {
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// TimeWindow bounds one fetch. Both ends are converted to UTC epoch
// milliseconds before hitting the API; callers pass zone-aware times and the
// window does the one conversion.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func (w TimeWindow) startMillis() int64 { return w.Start.UTC().UnixMilli() }
func (w TimeWindow) endMillis() int64   { return w.End.UTC().UnixMilli() }

// FetcherConfig tunes stream discovery and pagination.
type FetcherConfig struct {
	// MaxStreams bounds discovery to the most recently active streams.
	MaxStreams int
	// ChunkSize is how many streams are paged concurrently. Kept small to
	// stay under the CloudWatch Logs rate limits.
	ChunkSize int
	// StreamEventCap stops paging a single stream once this many events have
	// accumulated, a safety valve against pathological streams.
	StreamEventCap int
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.MaxStreams <= 0 {
		c.MaxStreams = 50
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 5
	}
	if c.StreamEventCap <= 0 {
		c.StreamEventCap = 10000
	}
	return c
}

// Fetcher retrieves raw slow-query log events for one instance's log group
// across its recent streams.
type Fetcher struct {
	client LogsAPI
	cfg    FetcherConfig
	log    *logrus.Entry
}

func NewFetcher(client LogsAPI, cfg FetcherConfig) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg.withDefaults(),
		log:    logrus.WithField("component", "cloudwatch-fetcher"),
	}
}

// LogGroupName is the RDS slow-query log group for an instance.
func LogGroupName(instanceName string) string {
	return fmt.Sprintf("/aws/rds/instance/%s/slowquery", instanceName)
}

// Fetch returns every event in the window across the instance's streams,
// sorted by event timestamp ascending. A stream that fails contributes zero
// events and does not abort its siblings; a missing log group yields an empty
// result.
func (f *Fetcher) Fetch(ctx context.Context, instanceName string, window TimeWindow) ([]datamodels.RawLogEvent, error) {
	logGroup := LogGroupName(instanceName)
	logger := f.log.WithField("instance", instanceName)

	streams, err := f.describeStreams(ctx, logGroup)
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			logger.Info("No slow query log group")
			return nil, nil
		}
		return nil, fmt.Errorf("describing log streams for %s: %w", logGroup, err)
	}
	if len(streams) == 0 {
		logger.Info("No slow query log streams")
		return nil, nil
	}

	var all []datamodels.RawLogEvent
	for i := 0; i < len(streams); i += f.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			// Cancellation abandons remaining chunks; events already
			// fetched are simply discarded by the caller.
			return nil, err
		}

		end := i + f.cfg.ChunkSize
		if end > len(streams) {
			end = len(streams)
		}

		chunkEvents := make([][]datamodels.RawLogEvent, end-i)
		var wg sync.WaitGroup
		for j, stream := range streams[i:end] {
			wg.Add(1)
			go func(j int, streamName string) {
				defer wg.Done()
				events, err := f.fetchStream(ctx, logGroup, streamName, window)
				if err != nil {
					logger.WithError(err).WithField("stream", streamName).Error("Failed to fetch log stream")
					return
				}
				chunkEvents[j] = events
			}(j, aws.ToString(stream.LogStreamName))
		}
		wg.Wait()

		for _, events := range chunkEvents {
			all = append(all, events...)
		}
	}

	// Deterministic ordering for downstream first/last-seen computation,
	// regardless of which chunk finished first.
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	logger.Infof("Fetched %d slow query log events", len(all))
	return all, nil
}

// describeStreams lists the most recently active streams of the group.
func (f *Fetcher) describeStreams(ctx context.Context, logGroup string) ([]types.LogStream, error) {
	out, err := f.client.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(logGroup),
		OrderBy:      types.OrderByLastEventTime,
		Descending:   aws.Bool(true),
		Limit:        aws.Int32(int32(f.cfg.MaxStreams)),
	})
	if err != nil {
		return nil, err
	}
	return out.LogStreams, nil
}

// fetchStream pages one stream until the window is exhausted, the forward
// token stops advancing, or the per-stream cap is hit.
func (f *Fetcher) fetchStream(ctx context.Context, logGroup, streamName string, window TimeWindow) ([]datamodels.RawLogEvent, error) {
	var events []datamodels.RawLogEvent
	var nextToken *string

	for {
		input := &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  aws.String(logGroup),
			LogStreamName: aws.String(streamName),
			StartTime:     aws.Int64(window.startMillis()),
			EndTime:       aws.Int64(window.endMillis()),
			StartFromHead: aws.Bool(true),
			NextToken:     nextToken,
		}

		out, err := f.client.GetLogEvents(ctx, input)
		if err != nil {
			return nil, err
		}

		for _, event := range out.Events {
			events = append(events, datamodels.RawLogEvent{
				Timestamp: aws.ToInt64(event.Timestamp),
				Message:   aws.ToString(event.Message),
			})
		}

		if len(out.Events) == 0 {
			break
		}
		if aws.ToString(out.NextForwardToken) == aws.ToString(nextToken) {
			break
		}
		if len(events) >= f.cfg.StreamEventCap {
			f.log.WithField("stream", streamName).Warnf("Stream exceeded %d events, truncating", f.cfg.StreamEventCap)
			break
		}
		nextToken = out.NextForwardToken
	}

	return events, nil
}
